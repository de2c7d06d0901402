// Package archive decodes the doubly-nested bzip2 tar archives uploaded by
// all-sky meteor cameras into a per-station night of intensity samples plus
// the sidecar motion-event timestamps.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// ErrNotFound reports a missing archive file.
var ErrNotFound = errors.New("archive not found")

// ErrCorrupt reports an archive whose structure or contents cannot be
// decoded. The whole archive is skipped; nothing partial is returned.
var ErrCorrupt = errors.New("corrupt archive")

// Night holds the decoded contents of one uploaded archive: the ordered
// intensity time series and the sidecar event instants. Datetimes and
// Intensities are equal length and sorted ascending by time; FRTimestamps are
// in archive order.
type Night struct {
	Datetimes    []time.Time
	Intensities  []uint32
	FRTimestamps []time.Time
}

// Reader decodes uploaded archives. FPS fixes the half-frame sampling rate;
// Deinterlace halves the half-frame index when the camera records interlaced
// fields separately.
type Reader struct {
	FPS         float64
	Deinterlace bool
}

type sample struct {
	ts        time.Time
	intensity uint32
}

// Read decodes the archive at path. The outer tar.bz2 holds one inner
// FS*.tar.bz2 of binary fieldsum files plus FR* sidecar entries whose names
// carry the event timestamps.
func (r *Reader) Read(archivePath string) (*Night, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, archivePath)
		}
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var samples []sample
	var frTimestamps []time.Time

	outer := tar.NewReader(bzip2.NewReader(f))
	for {
		hdr, err := outer.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad outer archive: %v", ErrCorrupt, archivePath, err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}

		base := path.Base(hdr.Name)
		switch {
		case strings.HasPrefix(base, "FS") && strings.HasSuffix(base, ".tar.bz2"):
			inner, err := r.readInner(outer)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, archivePath, err)
			}
			samples = append(samples, inner...)
		case strings.HasPrefix(base, "FR"):
			ts, err := ParseFilenameTime(base)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: sidecar entry: %v", ErrCorrupt, archivePath, err)
			}
			frTimestamps = append(frTimestamps, ts)
		}
	}

	sort.SliceStable(samples, func(i, j int) bool { return samples[i].ts.Before(samples[j].ts) })

	night := &Night{
		Datetimes:    make([]time.Time, len(samples)),
		Intensities:  make([]uint32, len(samples)),
		FRTimestamps: frTimestamps,
	}
	for i, s := range samples {
		night.Datetimes[i] = s.ts
		night.Intensities[i] = s.intensity
	}
	return night, nil
}

// readInner decodes the inner fieldsum tar.bz2. Each member is one binary
// fieldsum file whose name carries the capture start instant; entry i lands
// at i/FPS seconds past it.
func (r *Reader) readInner(src io.Reader) ([]sample, error) {
	fps := r.FPS
	if fps <= 0 {
		fps = 25
	}

	var samples []sample
	inner := tar.NewReader(bzip2.NewReader(src))
	for {
		hdr, err := inner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bad inner archive: %v", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}

		start, err := ParseFilenameTime(hdr.Name)
		if err != nil {
			return nil, fmt.Errorf("fieldsum entry: %v", err)
		}

		halfFrames, intensities, err := ReadFieldIntensities(inner, r.Deinterlace)
		if err != nil {
			return nil, fmt.Errorf("fieldsum entry %s: %v", path.Base(hdr.Name), err)
		}

		for i, intensity := range intensities {
			offset := time.Duration(halfFrames[i] / fps * float64(time.Second))
			samples = append(samples, sample{ts: start.Add(offset), intensity: intensity})
		}
	}
	return samples, nil
}
