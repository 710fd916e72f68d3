package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
	block chan struct{}
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMirror_UploadsRelativeKeysWithRetry(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "results", "results-2026-01-02-03.jsonl.zst")
	writeFile(t, p)

	up := &fakeUploader{fails: 2}
	m := New(up, Config{DataDir: dir, Prefix: "/runs/", Backoff: time.Millisecond})
	m.Enqueue(p)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(up.keys) != 1 || up.keys[0] != "runs/results/results-2026-01-02-03.jsonl.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 || st.EnqueuedTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_RejectsPathsOutsideDataDir(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "x.bin")
	writeFile(t, outside)

	up := &fakeUploader{}
	m := New(up, Config{DataDir: dir})
	m.Enqueue(outside)
	m.Enqueue(filepath.Join(dir, "missing"))
	_ = m.Close()

	if len(up.keys) != 0 {
		t.Fatalf("unexpected uploads %v", up.keys)
	}
	if st := m.Stats(); st.UploadFailTotal != 2 {
		t.Fatalf("fail total=%d want 2", st.UploadFailTotal)
	}
}

func TestMirror_DropsWhenSaturated(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a")
	writeFile(t, p)

	up := &fakeUploader{block: make(chan struct{})}
	m := New(up, Config{DataDir: dir, QueueSize: 1, EnqueueWait: time.Millisecond})
	// One path is held by the blocked worker (eventually), one fills the queue.
	for i := 0; i < 5; i++ {
		m.Enqueue(p)
	}
	close(up.block)
	_ = m.Close()

	st := m.Stats()
	if st.DroppedTotal == 0 {
		t.Fatalf("expected drops, stats=%+v", st)
	}
	if st.UploadSuccessTotal+st.DroppedTotal != 5 {
		t.Fatalf("uploaded+dropped=%d want 5", st.UploadSuccessTotal+st.DroppedTotal)
	}
	m.Enqueue(p) // after close: ignored
	if m.Stats().EnqueuedTotal != 5 {
		t.Fatalf("enqueue after close counted")
	}
}

func TestNewClient_RequiresFields(t *testing.T) {
	if _, err := NewClient(ClientConfig{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
	c, err := NewClient(ClientConfig{Endpoint: "example.com", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil || c == nil {
		t.Fatalf("new client: %v", err)
	}
	if got := normalizeObjectKey(`\a//b/../c`); got != "a/c" {
		t.Fatalf("normalize=%q", got)
	}
}
