package feed

import (
	"errors"
	"reflect"
	"testing"
)

func TestLessOrdersByKeyThenID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    Record
		b    Record
		want bool
	}{
		{
			name: "higher ordering key first",
			a:    Record{ID: "a", OrderingKey: 20},
			b:    Record{ID: "b", OrderingKey: 10},
			want: true,
		},
		{
			name: "lower ordering key later",
			a:    Record{ID: "z", OrderingKey: 5},
			b:    Record{ID: "a", OrderingKey: 6},
			want: false,
		},
		{
			name: "tie broken by id descending",
			a:    Record{ID: "b", OrderingKey: 7},
			b:    Record{ID: "a", OrderingKey: 7},
			want: true,
		},
		{
			name: "same record is not less",
			a:    Record{ID: "a", OrderingKey: 7},
			b:    Record{ID: "a", OrderingKey: 7},
			want: false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := Less(testCase.a, testCase.b); got != testCase.want {
				t.Fatalf("Less = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestSortRecords(t *testing.T) {
	t.Parallel()

	records := []Record{
		{ID: "a", OrderingKey: 1},
		{ID: "c", OrderingKey: 3},
		{ID: "b", OrderingKey: 3},
		{ID: "d", OrderingKey: 2},
	}
	SortRecords(records)

	got := make([]string, 0, len(records))
	for _, record := range records {
		got = append(got, record.ID)
	}
	want := []string{"c", "b", "d", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if !IsSorted(records) {
		t.Fatal("IsSorted = false, want true")
	}
}

func TestRecordCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	original := Record{
		ID:         "r-1",
		MediaURLs:  []string{"gs://bucket/a.png"},
		Attributes: map[string]string{"status": "approved"},
	}
	cloned := original.Clone()
	cloned.MediaURLs[0] = "changed"
	cloned.Attributes["status"] = "denied"

	if original.MediaURLs[0] != "gs://bucket/a.png" {
		t.Fatalf("original media = %q, want untouched", original.MediaURLs[0])
	}
	if original.Attributes["status"] != "approved" {
		t.Fatalf("original status = %q, want approved", original.Attributes["status"])
	}
}

func TestMergeMutableCopiesOnlyCountersAndVisibility(t *testing.T) {
	t.Parallel()

	dst := Record{ID: "r-1", OrderingKey: 10, Pinned: false, Visible: true, Body: "old", Counters: Counters{Likes: 1}}
	src := Record{ID: "other", OrderingKey: 99, Pinned: true, Visible: false, Body: "new", Counters: Counters{Likes: 4, Replies: 2}}

	if !MergeMutable(&dst, src) {
		t.Fatal("MergeMutable changed = false, want true")
	}
	if dst.ID != "r-1" || dst.OrderingKey != 10 || dst.Pinned || dst.Body != "old" {
		t.Fatalf("identity or position changed: %+v", dst)
	}
	if dst.Visible || dst.Counters != (Counters{Likes: 4, Replies: 2}) {
		t.Fatalf("mutable fields not merged: %+v", dst)
	}
	if MergeMutable(&dst, src) {
		t.Fatal("second MergeMutable changed = true, want false")
	}
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	if err := (Record{}).Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("Validate error = %v, want ErrInvalidRecord", err)
	}
	if err := (Record{ID: "r"}).Validate(); err != nil {
		t.Fatalf("Validate error = %v, want nil", err)
	}
}

func TestIndexByIDKeepsFirstPosition(t *testing.T) {
	t.Parallel()

	index := IndexByID([]Record{{ID: "a"}, {ID: "b"}, {ID: "a"}})
	if len(index) != 2 || index["a"] != 0 || index["b"] != 1 {
		t.Fatalf("index = %v, want a:0 b:1", index)
	}
}
