package log

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"seedcraft.ai/internal/search"
)

func TestResultLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewResultLogger(dir)
	found := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rs := []search.Result{
		{RunID: "r1", Seed: 42, FoundAt: found},
		{RunID: "r1", Seed: -7, FoundAt: found},
	}
	if err := l.AppendResults(context.Background(), rs); err != nil {
		t.Fatalf("AppendResults: %v", err)
	}
	if err := l.WriteSummary(search.Summary{RunID: "r1", Reason: search.ReasonUser, ResumeStart: 43}); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files: %v", files)
	}
	var seeds []int64
	var summaries int
	err = ReadFile(files[0], func(e Entry) error {
		switch e.Type {
		case "result":
			seeds = append(seeds, e.Result.Seed)
			if !e.Result.FoundAt.Equal(found) {
				t.Fatalf("found_at: %v", e.Result.FoundAt)
			}
		case "summary":
			summaries++
			if e.Summary.ResumeStart != 43 {
				t.Fatalf("summary: %+v", e.Summary)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(seeds) != 2 || seeds[0] != 42 || seeds[1] != -7 || summaries != 1 {
		t.Fatalf("seeds=%v summaries=%d", seeds, summaries)
	}
}

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "results")
	now := time.Date(2026, 1, 2, 3, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	var closed []string
	w.SetOnClose(func(p string) { closed = append(closed, filepath.Base(p)) })
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("expected 2 hourly files, got %d", len(ents))
	}
	if ents[0].Name() != "results-2026-01-02-03.jsonl.zst" || ents[1].Name() != "results-2026-01-02-04.jsonl.zst" {
		t.Fatalf("names: %s %s", ents[0].Name(), ents[1].Name())
	}
	if len(closed) != 2 || closed[0] != ents[0].Name() || closed[1] != ents[1].Name() {
		t.Fatalf("closed=%v", closed)
	}
}
