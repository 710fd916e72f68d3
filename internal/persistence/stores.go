// Package persistence opens the result stores a search process writes to.
package persistence

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"seedcraft.ai/internal/persistence/indexdb"
	rlog "seedcraft.ai/internal/persistence/log"
	"seedcraft.ai/internal/persistence/mirror"
	"seedcraft.ai/internal/tuning"
)

// Stores groups the optional result stores. The results log is always open.
type Stores struct {
	Log    *rlog.ResultLogger
	Index  *indexdb.SQLiteIndex
	Remote *indexdb.RemoteIndex
	Mirror *mirror.Mirror
}

// Open opens the stores under dataDir. SEEDCRAFT_INDEX_BACKEND (sqlite,
// remote, both, none) overrides the tuning choice, and SEEDCRAFT_REMOTE_URL /
// SEEDCRAFT_REMOTE_TOKEN override the remote endpoint and token.
func Open(dataDir string, cfg tuning.Index, logger *log.Logger) (Stores, error) {
	st := Stores{Log: rlog.NewResultLogger(dataDir)}

	endpoint := cfg.RemoteEndpoint
	if v := strings.TrimSpace(os.Getenv("SEEDCRAFT_REMOTE_URL")); v != "" {
		endpoint = v
	}
	token := cfg.RemoteToken
	if v := strings.TrimSpace(os.Getenv("SEEDCRAFT_REMOTE_TOKEN")); v != "" {
		token = v
	}

	useSQLite, useRemote := cfg.SQLite, endpoint != ""
	switch backend := strings.ToLower(strings.TrimSpace(os.Getenv("SEEDCRAFT_INDEX_BACKEND"))); backend {
	case "":
	case "none", "off", "disabled":
		useSQLite, useRemote = false, false
	case "sqlite":
		useSQLite, useRemote = true, false
	case "remote":
		useSQLite, useRemote = false, true
	case "both":
		useSQLite, useRemote = true, true
	default:
		return st, fmt.Errorf("unsupported SEEDCRAFT_INDEX_BACKEND: %s", backend)
	}

	if useSQLite {
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "results.sqlite"))
		if err != nil {
			_ = st.Close()
			return Stores{}, fmt.Errorf("open sqlite index: %w", err)
		}
		st.Index = idx
	}
	if useRemote {
		if endpoint == "" {
			_ = st.Close()
			return Stores{}, fmt.Errorf("remote index selected but no endpoint configured")
		}
		r, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         token,
			BatchSize:     envInt("SEEDCRAFT_REMOTE_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("SEEDCRAFT_REMOTE_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			_ = st.Close()
			return Stores{}, fmt.Errorf("open remote index: %w", err)
		}
		st.Remote = r
	}

	m, err := openMirror(dataDir, logger)
	if err != nil {
		_ = st.Close()
		return Stores{}, err
	}
	if m != nil {
		st.Mirror = m
		st.Log.OnFileClosed(m.Enqueue)
	}
	return st, nil
}

// openMirror returns nil unless SEEDCRAFT_MIRROR_BUCKET is set.
func openMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	bucket := strings.TrimSpace(os.Getenv("SEEDCRAFT_MIRROR_BUCKET"))
	if bucket == "" {
		return nil, nil
	}
	c, err := mirror.NewClient(mirror.ClientConfig{
		Endpoint:        os.Getenv("SEEDCRAFT_MIRROR_ENDPOINT"),
		Bucket:          bucket,
		Region:          os.Getenv("SEEDCRAFT_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("SEEDCRAFT_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SEEDCRAFT_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	return mirror.New(c, mirror.Config{
		DataDir:   dataDir,
		Prefix:    os.Getenv("SEEDCRAFT_MIRROR_PREFIX"),
		Workers:   envInt("SEEDCRAFT_MIRROR_WORKERS", 1),
		QueueSize: envInt("SEEDCRAFT_MIRROR_QUEUE", 2048),
		Logger:    logger,
	}), nil
}

// Close closes every open store. Stores handed to a controller are closed by
// it instead.
func (s Stores) Close() error {
	var errs []error
	if s.Log != nil {
		errs = append(errs, s.Log.Close())
	}
	if s.Index != nil {
		errs = append(errs, s.Index.Close())
	}
	if s.Remote != nil {
		errs = append(errs, s.Remote.Close())
	}
	// Last: closing the log enqueues its final file.
	errs = append(errs, s.Mirror.Close())
	return errors.Join(errs...)
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
