package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/storage"

	"ex-feedsync/pkg/feed"
)

func TestGCSStoreFetchBytes(t *testing.T) {
	t.Parallel()

	objects := map[string]string{
		"media/avatars/u1.png": "avatar",
		"media/big.bin":        "0123456789abcdef",
	}
	var closed int
	store := newGCSStore(func(_ context.Context, bucket string, object string) (io.ReadCloser, error) {
		if bucket != "media" {
			return nil, storage.ErrBucketNotExist
		}
		body, ok := objects[bucket+"/"+object]
		if !ok {
			return nil, storage.ErrObjectNotExist
		}
		return &countingCloser{Reader: bytes.NewReader([]byte(body)), closed: &closed}, nil
	}, 8, nil)

	data, err := store.FetchBytes(context.Background(), "gs://media/avatars/u1.png")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(data) != "avatar" {
		t.Fatalf("data = %q, want avatar", data)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	if _, err := store.FetchBytes(context.Background(), "gs://media/avatars/missing.png"); !errors.Is(err, feed.ErrMediaNotFound) {
		t.Fatalf("missing object error = %v, want ErrMediaNotFound", err)
	}
	if _, err := store.FetchBytes(context.Background(), "gs://other/x.png"); !errors.Is(err, feed.ErrMediaNotFound) {
		t.Fatalf("missing bucket error = %v, want ErrMediaNotFound", err)
	}
	if _, err := store.FetchBytes(context.Background(), "gs://media/big.bin"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("large object error = %v, want ErrTooLarge", err)
	}
}

func TestGCSStoreOpenFailureIsServer(t *testing.T) {
	t.Parallel()

	store := newGCSStore(func(context.Context, string, string) (io.ReadCloser, error) {
		return nil, errors.New("googleapi: Error 403: forbidden")
	}, 0, nil)

	_, err := store.FetchBytes(context.Background(), "gs://media/x.png")
	fetchErr, ok := feed.AsFetchError(err)
	if !ok || fetchErr.Kind != feed.FetchErrorServer {
		t.Fatalf("error = %v, want server fetch error", err)
	}
}

func TestParseGCSURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{name: "nested object", raw: "gs://bucket/a/b/c.png", wantBucket: "bucket", wantObject: "a/b/c.png"},
		{name: "upper scheme", raw: "GS://bucket/x", wantBucket: "bucket", wantObject: "x"},
		{name: "missing object", raw: "gs://bucket/", wantErr: true},
		{name: "missing bucket", raw: "gs:///x", wantErr: true},
		{name: "wrong scheme", raw: "https://bucket/x", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bucket, object, err := parseGCSURL(testCase.raw)
			if testCase.wantErr {
				if !errors.Is(err, feed.ErrInvalidQuery) {
					t.Fatalf("error = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if bucket != testCase.wantBucket || object != testCase.wantObject {
				t.Fatalf("parsed = %s/%s, want %s/%s", bucket, object, testCase.wantBucket, testCase.wantObject)
			}
		})
	}
}

type countingCloser struct {
	io.Reader
	closed *int
}

func (c *countingCloser) Close() error {
	*c.closed++
	return nil
}
