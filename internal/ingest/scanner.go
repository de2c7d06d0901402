package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gmn-data/fireball-pipeline/internal/monitoring"
)

// archiveSuffix is the only upload extension the pipeline understands.
const archiveSuffix = ".tar.bz2"

// stationDirLen is the length of a station identifier; top-level directories
// of that length are treated as per-station upload drops.
const stationDirLen = 6

// Scan walks the upload root and returns the paths of archives whose mtime
// strictly exceeds since, together with the maximum mtime seen across all
// eligible archives in this pass. Unreadable entries are logged and skipped;
// the walk continues.
func Scan(root string, since time.Time) (paths []string, maxMtime time.Time, err error) {
	maxMtime = since

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			monitoring.Logf("ingest: skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !eligible(root, path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			monitoring.Logf("ingest: failed to stat %s: %v", path, err)
			return nil
		}

		if info.ModTime().After(maxMtime) {
			maxMtime = info.ModTime()
		}
		if info.ModTime().After(since) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, since, nil
		}
		return nil, since, err
	}

	return paths, maxMtime, nil
}

// eligible reports whether path is an upload archive the producer should
// consider: a .tar.bz2 directly under a directory named "processed" (any
// case), or directly under a top-level station directory.
func eligible(root, path string) bool {
	if !strings.HasSuffix(path, archiveSuffix) {
		return false
	}

	dir := filepath.Dir(path)
	if strings.ToLower(filepath.Base(dir)) == "processed" {
		return true
	}

	parent := filepath.Dir(dir)
	if rel, err := filepath.Rel(root, parent); err != nil || rel != "." {
		return false
	}
	return len(filepath.Base(dir)) == stationDirLen
}
