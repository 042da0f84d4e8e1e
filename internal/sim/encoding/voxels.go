// Package encoding packs dense voxel id grids (y, then z, then x fastest)
// into base64 payloads for the observer bootstrap.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// PAL16 is two little-endian bytes per cell.
	PAL16 = "PAL16_U16LE_YZX"
	// RLE is (id, run) uvarint pairs. Mostly-air worlds shrink by orders of
	// magnitude.
	RLE = "RLE_UVARINT_YZX"
)

// Names maps the short query names accepted by the bootstrap endpoint.
var Names = map[string]string{"pal16": PAL16, "rle": RLE}

func Encode(enc string, ids []uint16) (string, error) {
	switch enc {
	case PAL16, "":
		return EncodePAL16(ids), nil
	case RLE:
		return EncodeRLE(ids), nil
	}
	return "", fmt.Errorf("unknown voxel encoding %q", enc)
}

// Decode expands payload and checks it holds exactly cells ids.
func Decode(enc, payload string, cells int) ([]uint16, error) {
	var (
		ids []uint16
		err error
	)
	switch enc {
	case PAL16:
		ids, err = DecodePAL16(payload)
	case RLE:
		ids, err = DecodeRLE(payload, cells)
	default:
		return nil, fmt.Errorf("unknown voxel encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) != cells {
		return nil, fmt.Errorf("%s: %d cells, want %d", enc, len(ids), cells)
	}
	return ids, nil
}

func EncodePAL16(ids []uint16) string {
	buf := make([]byte, 2*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint16(buf[2*i:], id)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func DecodePAL16(payload string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%s: odd payload length %d", PAL16, len(raw))
	}
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out, nil
}

func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(ids); {
		id := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == id {
			run++
		}
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(id))])
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(run))])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE expands at most limit cells.
func DecodeRLE(payload string, limit int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, limit)
	for i := 0; i < len(raw); {
		id, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("%s: bad varint at %d", RLE, i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("%s: bad varint at %d", RLE, i)
		}
		i += n
		if id > 0xFFFF {
			return nil, fmt.Errorf("%s: block id %d out of range", RLE, id)
		}
		if run == 0 || run > uint64(limit-len(out)) {
			return nil, fmt.Errorf("%s: run %d overflows %d cells", RLE, run, limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(id))
		}
	}
	return out, nil
}
