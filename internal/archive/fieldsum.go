package archive

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadFieldIntensities decodes one binary fieldsum file: a little-endian
// uint16 entry count followed by that many little-endian uint32 summed field
// intensities. The returned half-frame indices map entry i to its time offset
// within the capture; with deinterlacing enabled each pair of fields shares a
// frame, halving the index.
func ReadFieldIntensities(r io.Reader, deinterlace bool) (halfFrames []float64, intensities []uint32, err error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("failed to read fieldsum entry count: %w", err)
	}

	deinterlaceFlag := 1.0
	if deinterlace {
		deinterlaceFlag = 2.0
	}

	halfFrames = make([]float64, n)
	intensities = make([]uint32, n)
	for i := 0; i < int(n); i++ {
		halfFrames[i] = float64(i) / deinterlaceFlag
		if err := binary.Read(r, binary.LittleEndian, &intensities[i]); err != nil {
			return nil, nil, fmt.Errorf("truncated fieldsum file at entry %d of %d: %w", i, n, err)
		}
	}

	return halfFrames, intensities, nil
}

// EncodeFieldIntensities encodes an intensity sequence into the binary
// fieldsum format. It is the exact inverse of ReadFieldIntensities and exists
// for fixture generation and round-trip verification.
func EncodeFieldIntensities(intensities []uint32) ([]byte, error) {
	if len(intensities) > 0xFFFF {
		return nil, fmt.Errorf("fieldsum entry count %d exceeds uint16 range", len(intensities))
	}

	buf := make([]byte, 0, 2+4*len(intensities))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(intensities)))
	for _, v := range intensities {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf, nil
}
