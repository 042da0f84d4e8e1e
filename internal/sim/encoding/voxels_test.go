package encoding

import (
	"encoding/base64"
	"testing"
)

func sample() []uint16 {
	in := []uint16{1, 1, 1, 2, 2, 3}
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	return append(in, 9, 10, 10, 10, 300)
}

func TestEncodings_RoundTrip(t *testing.T) {
	in := sample()
	for _, enc := range []string{PAL16, RLE} {
		payload, err := Encode(enc, in)
		if err != nil {
			t.Fatalf("%s encode: %v", enc, err)
		}
		out, err := Decode(enc, payload, len(in))
		if err != nil {
			t.Fatalf("%s decode: %v", enc, err)
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("%s mismatch at %d: got %d want %d", enc, i, out[i], in[i])
			}
		}
	}
}

func TestRLE_IsSmallerForUniformRuns(t *testing.T) {
	air := make([]uint16, 64*64*64)
	if rle, pal := len(EncodeRLE(air)), len(EncodePAL16(air)); rle >= pal/1000 {
		t.Fatalf("rle=%d pal16=%d", rle, pal)
	}
}

func TestDecode_RejectsWrongSize(t *testing.T) {
	payload := EncodeRLE(sample())
	if _, err := Decode(RLE, payload, 10); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := Decode(PAL16, EncodePAL16(sample()), 3); err == nil {
		t.Fatalf("expected size error")
	}
	if _, err := DecodePAL16(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})); err == nil {
		t.Fatalf("expected odd length error")
	}
	if _, err := Decode("NOPE", payload, 10); err == nil {
		t.Fatalf("expected unknown encoding error")
	}
}
