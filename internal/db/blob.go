package db

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Timestamp and intensity arrays are persisted as explicit little-endian
// blobs: a uint32 element count followed by fixed-width values (int64
// unix-nanoseconds for instants, uint32 for raw intensities). The encoding is
// portable and round-trips bit-exactly, which the detection idempotency
// invariant depends on.

func encodeTimes(ts []time.Time) []byte {
	buf := make([]byte, 0, 4+8*len(ts))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ts)))
	for _, t := range ts {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(t.UnixNano()))
	}
	return buf
}

func decodeTimes(blob []byte) ([]time.Time, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("timestamp blob too short: %d bytes", len(blob))
	}
	n := binary.LittleEndian.Uint32(blob)
	if len(blob) != 4+8*int(n) {
		return nil, fmt.Errorf("timestamp blob length %d does not match count %d", len(blob), n)
	}

	ts := make([]time.Time, n)
	for i := range ts {
		nanos := int64(binary.LittleEndian.Uint64(blob[4+8*i:]))
		ts[i] = time.Unix(0, nanos).UTC()
	}
	return ts, nil
}

func encodeIntensities(vals []uint32) []byte {
	buf := make([]byte, 0, 4+4*len(vals))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vals)))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

func decodeIntensities(blob []byte) ([]uint32, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("intensity blob too short: %d bytes", len(blob))
	}
	n := binary.LittleEndian.Uint32(blob)
	if len(blob) != 4+4*int(n) {
		return nil, fmt.Errorf("intensity blob length %d does not match count %d", len(blob), n)
	}

	vals := make([]uint32, n)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint32(blob[4+4*i:])
	}
	return vals, nil
}
