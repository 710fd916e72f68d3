// Package seedfile reads explicit seed lists: plain text, one base-10 seed
// per line. Malformed lines are skipped.
package seedfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	getter "github.com/hashicorp/go-getter"
)

// Parse returns the seeds in r in file order.
func Parse(r io.Reader) ([]int64, error) {
	var seeds []int64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		seeds = append(seeds, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return seeds, nil
}

func Load(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	seeds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seeds, nil
}

// Fetch loads a seed list from src. Existing local paths are read directly;
// anything else (http(s)://, s3::, git::, ...) is downloaded into cacheDir
// first.
func Fetch(ctx context.Context, src, cacheDir string) ([]int64, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty seed file source")
	}
	if st, err := os.Stat(src); err == nil && !st.IsDir() {
		return Load(src)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	dst := filepath.Join(cacheDir, cacheName(src))
	if err := getter.GetFile(dst, src, getter.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	return Load(dst)
}

func cacheName(src string) string {
	base := src
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = filepath.Base(strings.TrimRight(base, "/"))
	if base == "" || base == "." || base == "/" {
		base = "seeds"
	}
	return base + ".txt"
}
