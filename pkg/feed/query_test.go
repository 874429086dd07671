package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{
			name:  "valid query",
			query: Query{Collection: "posts", Limit: 5, Filters: []Filter{Eq(FieldPinned, false)}},
		},
		{
			name:    "missing collection",
			query:   Query{Limit: 5},
			wantErr: true,
		},
		{
			name:    "non positive limit",
			query:   Query{Collection: "posts"},
			wantErr: true,
		},
		{
			name:    "filter without field",
			query:   Query{Collection: "posts", Limit: 1, Filters: []Filter{{Value: true}}},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.query.Validate()
			if testCase.wantErr && !errors.Is(err, ErrInvalidQuery) {
				t.Fatalf("Validate error = %v, want ErrInvalidQuery", err)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestQueryWithFiltersDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := Query{Collection: "posts", Limit: 5, Filters: make([]Filter, 1, 4)}
	base.Filters[0] = Eq(FieldVisible, true)

	pinned := base.WithFilters(Eq(FieldPinned, true))
	regular := base.WithFilters(Eq(FieldPinned, false))

	value, ok := pinned.FilterValue(FieldPinned)
	if !ok || value != true {
		t.Fatalf("pinned filter = (%v, %v), want (true, true)", value, ok)
	}
	value, ok = regular.FilterValue(FieldPinned)
	if !ok || value != false {
		t.Fatalf("regular filter = (%v, %v), want (false, true)", value, ok)
	}
	if len(base.Filters) != 1 {
		t.Fatalf("base filters = %d, want 1", len(base.Filters))
	}
}

func TestPageCursorAdvanceNeverUnexhausts(t *testing.T) {
	t.Parallel()

	cursor := PageCursor{}
	cursor = cursor.Advance(PageCursor{Token: "t1"})
	if cursor.Token != "t1" || cursor.Exhausted {
		t.Fatalf("cursor = %+v, want t1 not exhausted", cursor)
	}
	cursor = cursor.Advance(PageCursor{Exhausted: true})
	if cursor.Token != "t1" || !cursor.Exhausted {
		t.Fatalf("cursor = %+v, want t1 exhausted", cursor)
	}
	cursor = cursor.Advance(PageCursor{Token: "t2"})
	if !cursor.Exhausted || cursor.Token != "t1" {
		t.Fatalf("cursor = %+v, want to stay exhausted at t1", cursor)
	}
}

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	rootCause := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		wantKind FetchErrorKind
	}{
		{
			name:     "plain error uses fallback",
			err:      rootCause,
			wantKind: FetchErrorServer,
		},
		{
			name:     "deadline is network",
			err:      fmt.Errorf("query: %w", context.DeadlineExceeded),
			wantKind: FetchErrorNetwork,
		},
		{
			name:     "existing classification is kept",
			err:      fmt.Errorf("wrapped: %w", &FetchError{Kind: FetchErrorDecode, Op: "decode", Cause: rootCause}),
			wantKind: FetchErrorDecode,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := ClassifyFetchError("query posts", testCase.err, FetchErrorServer)
			fetchErr, ok := AsFetchError(err)
			if !ok {
				t.Fatalf("AsFetchError(%v) = false, want true", err)
			}
			if fetchErr.Kind != testCase.wantKind {
				t.Fatalf("kind = %s, want %s", fetchErr.Kind, testCase.wantKind)
			}
			if !errors.Is(err, testCase.err) {
				t.Fatalf("classified error lost its cause: %v", err)
			}
		})
	}
}

func TestProfileFromRecord(t *testing.T) {
	t.Parallel()

	profile, err := ProfileFromRecord(Record{
		ID:   "u-1",
		Body: "fallback name",
		Attributes: map[string]string{
			ProfileAttrAvatarURL: "gs://avatars/u-1.png",
			"role":               "moderator",
		},
	})
	if err != nil {
		t.Fatalf("ProfileFromRecord failed: %v", err)
	}
	if profile.DisplayName != "fallback name" {
		t.Fatalf("display name = %q, want fallback name", profile.DisplayName)
	}
	if profile.AvatarURL != "gs://avatars/u-1.png" {
		t.Fatalf("avatar = %q", profile.AvatarURL)
	}
	if profile.Attributes["role"] != "moderator" {
		t.Fatalf("attributes = %v, want role carried through", profile.Attributes)
	}
	if _, exists := profile.Attributes[ProfileAttrAvatarURL]; exists {
		t.Fatal("avatar attribute should be decoded, not carried")
	}
}
