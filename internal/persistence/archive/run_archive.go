// Package archive keeps a copy of the final state of finished runs.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"seedcraft.ai/internal/search"
)

type RunArchiveMeta struct {
	RunID      string         `json:"run_id"`
	JobID      string         `json:"job_id"`
	Summary    search.Summary `json:"summary"`
	Checkpoint string         `json:"checkpoint,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// ArchiveRun copies the run's checkpoint and a meta.json into
// dataDir/archives/run_<id>/ and returns the written paths. Runs stopped by the
// user are resumable and are not archived; ArchiveRun returns nil for them.
// A missing checkpoint file is not an error.
func ArchiveRun(dataDir, checkpointPath string, sum search.Summary) ([]string, error) {
	if sum.Reason == search.ReasonUser || sum.RunID == "" {
		return nil, nil
	}
	dir := filepath.Join(dataDir, "archives", "run_"+sum.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var paths []string
	meta := RunArchiveMeta{
		RunID:     sum.RunID,
		JobID:     sum.JobID,
		Summary:   sum,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if checkpointPath != "" {
		dst := filepath.Join(dir, filepath.Base(checkpointPath))
		switch err := copyFile(checkpointPath, dst); {
		case err == nil:
			meta.Checkpoint = filepath.Base(dst)
			paths = append(paths, dst)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("copy checkpoint: %w", err)
		}
	}

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	metaPath := filepath.Join(dir, "meta.json")
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return nil, err
	}
	return append(paths, metaPath), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
