package media

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"ex-feedsync/pkg/feed"
)

func TestRouterDispatchesByScheme(t *testing.T) {
	t.Parallel()

	gcs := &stubMediaStore{data: []byte("from-gcs")}
	web := &stubMediaStore{data: []byte("from-web")}
	router, err := NewRouter(map[string]feed.MediaStore{
		"gs":    gcs,
		"HTTPS": web,
		"http":  web,
	})
	if err != nil {
		t.Fatalf("new router failed: %v", err)
	}
	if got, want := router.Schemes(), []string{"gs", "http", "https"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("schemes = %v, want %v", got, want)
	}

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{name: "gcs", url: "gs://bucket/a.png", want: "from-gcs"},
		{name: "https", url: "https://cdn.example.com/a.png", want: "from-web"},
		{name: "upper case scheme", url: "HTTP://cdn.example.com/a.png", want: "from-web"},
		{name: "unknown scheme", url: "ftp://host/a.png", wantErr: feed.ErrUnsupported},
		{name: "no scheme", url: "a.png", wantErr: feed.ErrUnsupported},
		{name: "malformed", url: "://bad", wantErr: feed.ErrInvalidQuery},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			data, err := router.FetchBytes(context.Background(), testCase.url)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("error = %v, want %v", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if string(data) != testCase.want {
				t.Fatalf("data = %q, want %q", data, testCase.want)
			}
		})
	}
}

func TestNewRouterValidation(t *testing.T) {
	t.Parallel()

	store := &stubMediaStore{}
	tests := []struct {
		name   string
		routes map[string]feed.MediaStore
	}{
		{name: "empty scheme", routes: map[string]feed.MediaStore{" ": store}},
		{name: "nil store", routes: map[string]feed.MediaStore{"gs": nil}},
		{name: "duplicate after normalization", routes: map[string]feed.MediaStore{"gs": store, "GS": store}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewRouter(testCase.routes); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

type stubMediaStore struct {
	data []byte
}

func (s *stubMediaStore) FetchBytes(context.Context, string) ([]byte, error) {
	return s.data, nil
}
