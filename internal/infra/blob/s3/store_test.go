package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"ptxmeta/internal/blob/core"
)

func TestStoreMockedFlow(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if s.Driver() != core.DriverS3 || s.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store %s %s", s.Driver(), s.Bucket())
	}
	info, err := s.Put(ctx, "ORG/1/ORG_Dm_AA.xlsx", strings.NewReader("hello"), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 5 || info.ETag != "etag123" || info.Locked {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "ORG/1/ORG_Dm_AA.xlsx", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	_, rc, err := s.Get(ctx, "ORG/1/ORG_Dm_AA.xlsx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	list, err := s.List(ctx, "ORG/")
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	ok, err := s.Delete(ctx, "ORG/1/ORG_Dm_AA.xlsx")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = s.Delete(ctx, "ORG/1/ORG_Dm_AA.xlsx")
	if err != nil || ok {
		t.Fatalf("missing delete: %v %v", ok, err)
	}
	if _, err := s.Head(ctx, "ORG/1/ORG_Dm_AA.xlsx"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreLockTagsObject(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if _, err := s.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Lock(ctx, "k"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	info, err := s.Head(ctx, "k")
	if err != nil || !info.Locked {
		t.Fatalf("expected locked: %+v %v", info, err)
	}
	if _, err := s.Delete(ctx, "k"); !errors.Is(err, core.ErrLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	if err := s.Lock(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreLockDenied(t *testing.T) {
	ctx := context.Background()
	s := newMock(&fakeBucket{objects: map[string]fakeObject{"k": {body: []byte("v")}}, denyTags: true})
	if err := s.Lock(ctx, "k"); !errors.Is(err, core.ErrLockDenied) {
		t.Fatalf("expected lock denied, got %v", err)
	}
}

func TestPresign(t *testing.T) {
	s := NewMockForTests()
	u, err := s.PresignURL(context.Background(), "a/b.xlsx", core.SignedURLOptions{Expiry: time.Minute})
	if err != nil || !strings.Contains(u, "a/b.xlsx") || !strings.Contains(u, "X-Amz-Expires=60") {
		t.Fatalf("unexpected url %q %v", u, err)
	}
	if _, err := s.PresignURL(context.Background(), "a", core.SignedURLOptions{Method: "DELETE"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	s, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil || s.Bucket() != "b" {
		t.Fatalf("new: %v", err)
	}
}

func TestDecodeChunked(t *testing.T) {
	got, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:abc\r\n\r\n"))
	if !ok || string(got) != "hello" {
		t.Fatalf("unexpected decode %q %v", got, ok)
	}
	if _, ok := decodeChunked([]byte("plain body")); ok {
		t.Fatalf("plain body should not decode")
	}
}

func TestMockHeadersAreCanonical(t *testing.T) {
	h := objectHeaders(fakeObject{body: []byte("hello"), contentType: "text/plain"})
	for key := range h {
		if key != http.CanonicalHeaderKey(key) {
			t.Fatalf("header %q is not canonical", key)
		}
	}
	if h.Get("ETag") != `"etag123"` || h.Get("Content-Length") != "5" {
		t.Fatalf("unexpected headers %v", h)
	}
}
