package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ptxmeta/internal/blob/core"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if s.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "ORG/abc/ORG_Dm_AA.xlsx", strings.NewReader("payload"), core.PutOptions{ContentType: "application/octet-stream", Metadata: map[string]string{"batch": "AA"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" || info.Metadata["batch"] != "AA" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "ORG/abc/ORG_Dm_AA.xlsx", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "ORG/abc/ORG_Dm_AA.xlsx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "payload" || got.ETag != info.ETag {
		t.Fatalf("unexpected get %q %+v", body, got)
	}
	if _, err := s.Put(ctx, "OTHER/x.xlsx", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := s.List(ctx, "ORG/")
	if err != nil || len(list) != 1 || list[0].Key != "ORG/abc/ORG_Dm_AA.xlsx" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(all))
	}
	ok, err := s.Delete(ctx, "ORG/abc/ORG_Dm_AA.xlsx")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = s.Delete(ctx, "ORG/abc/ORG_Dm_AA.xlsx")
	if err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, err := s.Head(ctx, "ORG/abc/ORG_Dm_AA.xlsx"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreLockPersistsInSidecar(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.Put(ctx, "a/b.xlsx", bytes.NewReader([]byte("v")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Lock(ctx, "a/b.xlsx"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	reopened, err := New(s.Root())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	info, err := reopened.Head(ctx, "a/b.xlsx")
	if err != nil || !info.Locked {
		t.Fatalf("expected locked after reopen: %+v %v", info, err)
	}
	if _, err := reopened.Delete(ctx, "a/b.xlsx"); !errors.Is(err, core.ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if err := reopened.Lock(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	s := newStore(t)
	for _, key := range []string{"", "  ", "../x", "/abs", "a/../../b", "x.meta", lockName} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestStorePresign(t *testing.T) {
	s := newStore(t)
	u, err := s.PresignURL(context.Background(), "a/b.xlsx", core.SignedURLOptions{})
	if err != nil || u != "http://local.blob/a/b.xlsx" {
		t.Fatalf("unexpected url %q %v", u, err)
	}
	if _, err := s.PresignURL(context.Background(), "a/b.xlsx", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestListCorruptSidecar(t *testing.T) {
	s := newStore(t)
	if err := os.WriteFile(filepath.Join(s.Root(), "bad.meta"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.List(context.Background(), ""); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(filepath.Join(file, "sub")); err == nil {
		t.Fatalf("expected mkdir error")
	}
}
