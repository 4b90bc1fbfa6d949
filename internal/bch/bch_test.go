package bch

import (
	"math/rand"
	"testing"
)

func bitsFromUint32(v uint32, n int) []int {
	bits := make([]int, n)
	for i := 0; i < n; i++ {
		bits[i] = int((v >> uint(n-1-i)) & 1)
	}
	return bits
}

func uint32FromBits(bits []int) uint32 {
	var v uint32
	for _, b := range bits {
		v <<= 1
		v |= uint32(b)
	}
	return v
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewFlexCodec()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		data := make([]int, 21)
		for j := range data {
			data[j] = rng.Intn(2)
		}

		codeword, err := c.Encode(data)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		corrected, flips, err := c.Correct(codeword)
		if err != nil {
			t.Fatalf("Correct on a clean codeword: %v", err)
		}
		if flips != 0 {
			t.Fatalf("Correct flipped %d bits on a clean codeword", flips)
		}
		// Encode puts the 10 parity bits first, so data bit j sits at
		// codeword position 10+j.
		for j := 0; j < 21; j++ {
			if corrected[10+j] != data[j] {
				t.Fatalf("round trip mismatch at bit %d: got %d want %d", j, corrected[10+j], data[j])
			}
		}
	}
}

func TestSingleErrorCorrection(t *testing.T) {
	c := NewFlexCodec()
	data := make([]int, 21)
	for i := range data {
		data[i] = (i * 7) % 2
	}
	codeword, err := c.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for pos := 0; pos < 31; pos++ {
		received := append([]int(nil), codeword...)
		received[pos] ^= 1

		corrected, flips, err := c.Correct(received)
		if err != nil {
			t.Fatalf("single error at bit %d: unexpected error %v", pos, err)
		}
		if flips != 1 {
			t.Fatalf("single error at bit %d: corrected %d bits, want 1", pos, flips)
		}
		for j := range codeword {
			if corrected[j] != codeword[j] {
				t.Fatalf("single error at bit %d: codeword mismatch at %d", pos, j)
			}
		}
	}
}

func TestDoubleErrorCorrection(t *testing.T) {
	c := NewFlexCodec()
	data := make([]int, 21)
	for i := range data {
		data[i] = (i * 3) % 2
	}
	codeword, err := c.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for a := 0; a < 31; a++ {
		for b := a + 1; b < 31; b++ {
			received := append([]int(nil), codeword...)
			received[a] ^= 1
			received[b] ^= 1

			corrected, flips, err := c.Correct(received)
			if err != nil {
				t.Fatalf("double error at (%d,%d): unexpected error %v", a, b, err)
			}
			if flips != 2 {
				t.Fatalf("double error at (%d,%d): corrected %d bits, want 2", a, b, flips)
			}
			for j := range codeword {
				if corrected[j] != codeword[j] {
					t.Fatalf("double error at (%d,%d): codeword mismatch at %d", a, b, j)
				}
			}
		}
	}
}

func TestTripleErrorUncorrectable(t *testing.T) {
	c := NewFlexCodec()
	data := make([]int, 21)
	for i := range data {
		data[i] = (i * 5) % 2
	}
	codeword, err := c.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	received := append([]int(nil), codeword...)
	received[0] ^= 1
	received[10] ^= 1
	received[20] ^= 1

	if _, _, err := c.Correct(received); err == nil {
		t.Fatalf("expected a triple-error pattern to be reported uncorrectable")
	}
}

func TestFixErrorsRoundTrip(t *testing.T) {
	c := NewFlexCodec()
	data := make([]int, 21)
	for i := range data {
		data[i] = (i * 11) % 2
	}
	codeword, err := c.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	word := uint32FromBits(codeword) // codeword occupies bits 30..0; bit 31 is dropped by FixErrors
	word ^= 1 << 20                  // flip one bit within the low 31

	fixed, ok := c.FixErrors(word)
	if !ok {
		t.Fatalf("FixErrors reported failure on a single-bit error")
	}

	gotBits := bitsFromUint32(fixed, 31)
	for i := range codeword {
		if gotBits[i] != codeword[i] {
			t.Fatalf("FixErrors mismatch at bit %d: got %d want %d", i, gotBits[i], codeword[i])
		}
	}
}

func TestExtractDataMatchesSystematicLayout(t *testing.T) {
	c := NewFlexCodec()
	data := make([]int, 21)
	for i := range data {
		data[i] = (i * 7) % 2
	}
	codeword, err := c.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fixed := uint32FromBits(codeword)

	var want uint32
	for _, b := range data {
		want <<= 1
		want |= uint32(b)
	}

	if got := c.ExtractData(fixed); got != want {
		t.Fatalf("ExtractData = 0x%X, want 0x%X", got, want)
	}
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	if _, err := New([]int{1, 0, 1, 0, 0, 1}, 5, 21, 21, 2); err == nil {
		t.Fatalf("expected error when k >= n")
	}
	if _, err := New([]int{1, 0, 1}, 5, 31, 21, 2); err == nil {
		t.Fatalf("expected error on a malformed polynomial length")
	}
}
