// Package checkpoint persists search resume points as a zstd stream holding a
// JSON header line followed by a gob body.
package checkpoint

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"seedcraft.ai/internal/search"
)

const Version = 1

// Header is the human-readable first line of a checkpoint file.
type Header struct {
	Version     int    `json:"version"`
	RunID       string `json:"run_id"`
	JobID       string `json:"job_id"`
	ResumeStart int64  `json:"resume_start"`
}

type fileV1 struct {
	Header     Header
	Checkpoint search.Checkpoint
}

// Write replaces path with cp. The file is written beside path and renamed so
// readers never see a partial checkpoint.
func Write(path string, cp search.Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, cp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, cp search.Checkpoint) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 32*1024)

	h := Header{Version: Version, RunID: cp.RunID, JobID: cp.JobID, ResumeStart: cp.ResumeStart}
	hb, _ := json.Marshal(h)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&fileV1{Header: h, Checkpoint: cp}); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Read loads a checkpoint written by Write.
func Read(path string) (search.Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return search.Checkpoint{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return search.Checkpoint{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 32*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return search.Checkpoint{}, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return search.Checkpoint{}, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return search.Checkpoint{}, fmt.Errorf("unsupported checkpoint version %d", h.Version)
	}

	var body fileV1
	if err := gob.NewDecoder(br).Decode(&body); err != nil {
		return search.Checkpoint{}, fmt.Errorf("gob decode: %w", err)
	}
	return body.Checkpoint, nil
}

// File is a search.Checkpointer backed by a single checkpoint path.
type File struct {
	Path string
	// OnSave, when set, runs after each successful write.
	OnSave func(path string)
}

func (f File) SaveCheckpoint(ctx context.Context, cp search.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Write(f.Path, cp); err != nil {
		return err
	}
	if f.OnSave != nil {
		f.OnSave(f.Path)
	}
	return nil
}

// Load returns the saved checkpoint, or ok=false when none exists yet.
func (f File) Load() (cp search.Checkpoint, ok bool, err error) {
	cp, err = Read(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return search.Checkpoint{}, false, nil
	}
	if err != nil {
		return search.Checkpoint{}, false, err
	}
	return cp, true, nil
}
