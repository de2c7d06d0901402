// Package testutil provides shared test helpers: assertion shorthands and
// builders for the nested upload archive format.
package testutil

import (
	"archive/tar"
	"bytes"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// TarEntry is one member of a fixture tarball.
type TarEntry struct {
	Name string
	Body []byte
}

// TarBz2 builds a bzip2-compressed tarball from entries, in order.
func TarBz2(t *testing.T, entries []TarEntry) []byte {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, e := range entries {
		AssertNoError(t, tw.WriteHeader(&tar.Header{
			Name:    e.Name,
			Mode:    0o644,
			Size:    int64(len(e.Body)),
			ModTime: time.Unix(0, 0),
		}))
		_, err := tw.Write(e.Body)
		AssertNoError(t, err)
	}
	AssertNoError(t, tw.Close())

	var bz2Buf bytes.Buffer
	bw, err := bzip2.NewWriter(&bz2Buf, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	AssertNoError(t, err)
	_, err = bw.Write(tarBuf.Bytes())
	AssertNoError(t, err)
	AssertNoError(t, bw.Close())

	return bz2Buf.Bytes()
}

// FieldsumFile encodes one binary fieldsum member: a little-endian uint16
// count followed by that many little-endian uint32 intensities.
func FieldsumFile(intensities []uint32) []byte {
	buf := make([]byte, 0, 2+4*len(intensities))
	buf = append(buf, byte(len(intensities)), byte(len(intensities)>>8))
	for _, v := range intensities {
		buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return buf
}

// CaptureName renders an FF or FR member name for a station and a UTC instant
// with millisecond precision.
func CaptureName(prefix, station string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%03d_0000.bin",
		prefix, station, ts.UTC().Format("20060102_150405"), ts.Nanosecond()/1_000_000)
}

// NightArchive builds a complete upload archive: an outer tar.bz2 holding one
// inner FS tarball of fieldsum captures plus FR sidecar entries. Captures maps
// each capture start instant to its intensity sequence.
func NightArchive(t *testing.T, station string, captures map[time.Time][]uint32, frEvents []time.Time) []byte {
	t.Helper()

	starts := make([]time.Time, 0, len(captures))
	for ts := range captures {
		starts = append(starts, ts)
	}
	sortTimes(starts)

	var inner []TarEntry
	for _, ts := range starts {
		inner = append(inner, TarEntry{
			Name: CaptureName("FF", station, ts),
			Body: FieldsumFile(captures[ts]),
		})
	}

	var earliest time.Time
	if len(starts) > 0 {
		earliest = starts[0]
	}
	outer := []TarEntry{{
		Name: fmt.Sprintf("FS_%s_%s.tar.bz2", station, earliest.UTC().Format("20060102_150405")),
		Body: TarBz2(t, inner),
	}}
	for _, ts := range frEvents {
		outer = append(outer, TarEntry{Name: CaptureName("FR", station, ts), Body: []byte{0}})
	}

	return TarBz2(t, outer)
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
