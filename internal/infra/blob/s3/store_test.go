package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"roadcore/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newMock()
	if store.Driver() != core.DriverS3 || store.Bucket() != mockBucket {
		t.Fatalf("unexpected store identity %s %s", store.Driver(), store.Bucket())
	}

	payload := []byte("snapshot\r\nwith crlf bytes")
	info, err := store.Put(ctx, "snapshots/net.zst", bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/zstd",
		Metadata:    map[string]string{"digest": "d1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ETag != core.ETag(payload) || info.ContentType != "application/zstd" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["digest"] != "d1" {
		t.Fatalf("expected metadata round trip, got %+v", info.Metadata)
	}
	if !info.LastModified.Equal(mockModified) {
		t.Fatalf("unexpected last modified %s", info.LastModified)
	}
	if _, err := store.Put(ctx, "snapshots/net.zst", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "snapshots/net.zst")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || !bytes.Equal(body, payload) || got.ETag != info.ETag {
		t.Fatalf("unexpected get %q %+v %v", body, got, err)
	}

	ok, err := store.Delete(ctx, "snapshots/net.zst")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "snapshots/net.zst"); err != nil || ok {
		t.Fatalf("expected second delete to report false, got %v %v", ok, err)
	}
	if _, err := store.Head(ctx, "snapshots/net.zst"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "snapshots/net.zst"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store, fake := newMock()
	keys := []string{"snap/c", "snap/a", "snap/e", "snap/b", "snap/d", "other/x"}
	for _, k := range keys {
		if _, err := store.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	before := fake.requests
	list, err := store.List(ctx, "snap/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"snap/a", "snap/b", "snap/c", "snap/d", "snap/e"}
	if len(list) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), list)
	}
	for i, info := range list {
		if info.Key != want[i] || info.ETag != core.ETag([]byte(want[i])) {
			t.Fatalf("entry %d: unexpected %+v", i, info)
		}
	}
	if pages := fake.requests - before; pages != 3 {
		t.Fatalf("expected 3 list pages, got %d", pages)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	store := NewMockForTests()
	if _, err := store.Put(context.Background(), "../escape", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestStorePresign(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	url, err := store.PresignURL(ctx, "snapshots/net.zst", core.SignedURLOptions{Expiry: time.Minute})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "mock-bucket/snapshots/net.zst") || !strings.Contains(url, "X-Amz-Expires=60") {
		t.Fatalf("unexpected presigned url %s", url)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket requirement")
	}
	store, err := New(context.Background(), Config{
		Bucket:          "archives",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio-secret",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	creds, err := store.client.Options().Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "minio" || creds.SecretAccessKey != "minio-secret" {
		t.Fatalf("expected static credentials, got %+v", creds)
	}
	if store.client.Options().Region != defaultRegion || !store.client.Options().UsePathStyle {
		t.Fatalf("unexpected client options %+v", store.client.Options())
	}
}
