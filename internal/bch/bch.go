// Package bch implements the BCH(31,21,5) block code used to protect the
// FLEX Frame Information Word and every 32-bit data word: a GF(2^5)
// Galois field, LFSR encoding, and closed-form 2-error correction via
// Chien search.
package bch

import (
	"errors"
	"fmt"
)

// ErrInvalidParameters is returned by New when the code parameters are
// inconsistent (k >= n, or a malformed primitive polynomial).
var ErrInvalidParameters = errors.New("bch: invalid parameters")

// ErrUncorrectable is returned by Correct when a received word carries
// more errors than the code can fix.
var ErrUncorrectable = errors.New("bch: uncorrectable")

// Codec is a binary BCH encoder/decoder over GF(2^m).
type Codec struct {
	m, n, k, t int
	poly       []int
	alphaTo    []int // index -> polynomial form: alpha_to[i] = alpha**i
	indexOf    []int // polynomial form -> index form
	g          []int // generator polynomial coefficients, degree n-k
}

// New builds the GF(2^m) log/antilog tables and the generator polynomial
// for a BCH(n,k,t) code defined by the primitive polynomial coefficients
// in poly (length m+1, low-order coefficient first).
func New(poly []int, m, n, k, t int) (*Codec, error) {
	if m <= 0 || n <= 0 || k <= 0 || t <= 0 || k >= n {
		return nil, fmt.Errorf("%w: m=%d n=%d k=%d t=%d", ErrInvalidParameters, m, n, k, t)
	}
	if len(poly) != m+1 {
		return nil, fmt.Errorf("%w: polynomial length %d, want %d", ErrInvalidParameters, len(poly), m+1)
	}

	c := &Codec{
		m:       m,
		n:       n,
		k:       k,
		t:       t,
		poly:    append([]int(nil), poly...),
		alphaTo: make([]int, n+1),
		indexOf: make([]int, n+1),
	}
	c.generateGaloisField()
	c.generatePolynomial()
	return c, nil
}

// NewFlexCodec constructs the fixed BCH(31,21,5) codec used throughout the
// FLEX decoding pipeline: m=5, n=31, k=21, t=2, primitive polynomial
// x^5 + x^2 + 1.
func NewFlexCodec() *Codec {
	c, err := New([]int{1, 0, 1, 0, 0, 1}, 5, 31, 21, 2)
	if err != nil {
		// The FLEX parameters are fixed and known-valid; a failure here
		// indicates a programming error, not a runtime condition.
		panic(err)
	}
	return c
}

func (c *Codec) generateGaloisField() {
	mask := 1
	c.alphaTo[c.m] = 0

	for i := 0; i < c.m; i++ {
		c.alphaTo[i] = mask
		c.indexOf[c.alphaTo[i]] = i
		if c.poly[i] != 0 {
			c.alphaTo[c.m] ^= mask
		}
		mask <<= 1
	}

	c.indexOf[c.alphaTo[c.m]] = c.m
	mask >>= 1

	for i := c.m + 1; i < c.n; i++ {
		if c.alphaTo[i-1] >= mask {
			c.alphaTo[i] = c.alphaTo[c.m] ^ ((c.alphaTo[i-1] ^ mask) << 1)
		} else {
			c.alphaTo[i] = c.alphaTo[i-1] << 1
		}
		c.indexOf[c.alphaTo[i]] = i
	}

	c.indexOf[0] = -1
}

// generatePolynomial computes the BCH generator polynomial by combining
// the cyclotomic cosets containing 1..2t, following the classical
// cycle-set construction (Lin & Costello).
func (c *Codec) generatePolynomial() {
	n := c.n
	t := c.t

	cycle := make([][]int, n)
	size := make([]int, n)
	cycle[0] = []int{0}
	size[0] = 1
	cycle[1] = []int{1}
	size[1] = 1
	jj := 1

	var ll int
	for {
		ii := 0
		cur := []int{cycle[jj][0]}
		for {
			ii++
			cur = append(cur, (cur[ii-1]*2)%n)
			size[jj]++
			if (cur[ii]*2)%n == cur[0] {
				break
			}
		}
		cycle[jj] = cur

		ll = 0
		for {
			ll++
			test := false
			for ii := 1; ii <= jj && !test; ii++ {
				for kk := 0; kk < size[ii] && !test; kk++ {
					if ll == cycle[ii][kk] {
						test = true
					}
				}
			}
			if !test || ll >= n-1 {
				if !test {
					jj++
					cycle[jj] = []int{ll}
					size[jj] = 1
				}
				break
			}
		}
		if ll >= n-1 {
			break
		}
	}

	nocycles := jj
	min := make([]int, n)
	zeros := make([]int, n)
	kaux := 0

	for ii := 1; ii <= nocycles; ii++ {
		min[kaux] = 0
		for jj := 0; jj < size[ii]; jj++ {
			for root := 1; root < 2*t+1; root++ {
				if root == cycle[ii][jj] {
					min[kaux] = ii
				}
			}
		}
		if min[kaux] != 0 {
			kaux++
		}
	}

	noterms := kaux
	kaux = 1
	for ii := 0; ii < noterms; ii++ {
		for jj := 0; jj < size[min[ii]]; jj++ {
			zeros[kaux] = cycle[min[ii]][jj]
			kaux++
		}
	}
	rdncy := kaux - 1

	g := make([]int, rdncy+1)
	g[0] = c.alphaTo[zeros[1]]
	g[1] = 1

	for ii := 2; ii <= rdncy; ii++ {
		g[ii] = 1
		for jj := ii - 1; jj > 0; jj-- {
			if g[jj] != 0 {
				g[jj] = g[jj-1] ^ c.alphaTo[(c.indexOf[g[jj]]+zeros[ii])%n]
			} else {
				g[jj] = g[jj-1]
			}
		}
		g[0] = c.alphaTo[(c.indexOf[g[0]]+zeros[ii])%n]
	}

	c.g = g
}

// Encode computes n-k parity bits by LFSR division over a k-bit data
// vector and returns the full n-bit codeword with the parity bits first
// (codeword[0:n-k]) and the data bits last (codeword[n-k:n]), so that once
// FixErrors packs the codeword MSB-first into a word, the data field lands
// in the word's low k bits the way the FLEX wire format carries it. data
// must have exactly k elements, each 0 or 1.
func (c *Codec) Encode(data []int) ([]int, error) {
	if len(data) != c.k {
		return nil, fmt.Errorf("bch: data length %d, want %d", len(data), c.k)
	}

	rdncy := c.n - c.k
	bb := make([]int, rdncy)

	for i := c.k - 1; i >= 0; i-- {
		feedback := data[i] ^ bb[rdncy-1]
		if feedback != 0 {
			for j := rdncy - 1; j > 0; j-- {
				if c.g[j] != 0 {
					bb[j] = bb[j-1] ^ feedback
				} else {
					bb[j] = bb[j-1]
				}
			}
			if c.g[0] != 0 {
				bb[0] = feedback
			} else {
				bb[0] = 0
			}
		} else {
			for j := rdncy - 1; j > 0; j-- {
				bb[j] = bb[j-1]
			}
			bb[0] = 0
		}
	}

	codeword := make([]int, c.n)
	copy(codeword, bb)
	copy(codeword[rdncy:], data)
	return codeword, nil
}

// Correct decodes an n-bit received codeword, correcting up to t errors.
// It returns the corrected codeword and the number of bits that were
// flipped. If the received word carries more errors than the code can
// resolve, it returns ErrUncorrectable and leaves the codeword untouched.
func (c *Codec) Correct(received []int) ([]int, int, error) {
	if len(received) != c.n {
		return nil, 0, fmt.Errorf("bch: received length %d, want %d", len(received), c.n)
	}

	corrected := append([]int(nil), received...)

	s := make([]int, 5) // s[1..4]
	synError := false
	for i := 1; i <= 4; i++ {
		var acc int
		for j := 0; j < c.n; j++ {
			if corrected[j] != 0 {
				acc ^= c.alphaTo[(i*j)%c.n]
			}
		}
		if acc != 0 {
			synError = true
		}
		s[i] = c.indexOf[acc]
	}

	if !synError {
		return corrected, 0, nil
	}

	if s[1] == -1 {
		if s[2] != -1 {
			return nil, 0, ErrUncorrectable
		}
		return nil, 0, ErrUncorrectable
	}

	s3 := (s[1] * 3) % c.n
	if s[3] == s3 {
		// Single-bit error at position s[1].
		corrected[s[1]] ^= 1
		return corrected, 1, nil
	}

	// Two-error case: solve the degree-2 error locator polynomial in
	// closed form, then Chien-search for its roots.
	var aux int
	if s[3] != -1 {
		aux = c.alphaTo[s3] ^ c.alphaTo[s[3]]
	} else {
		aux = c.alphaTo[s3]
	}
	if aux == 0 || c.indexOf[aux] == -1 {
		return nil, 0, ErrUncorrectable
	}

	elp := [3]int{}
	elp[1] = (s[2] - c.indexOf[aux] + c.n) % c.n
	elp[2] = (s[1] - c.indexOf[aux] + c.n) % c.n

	reg := [3]int{0, elp[1], elp[2]}
	var loc []int
	for i := 1; i <= c.n; i++ {
		q := 1
		for j := 1; j <= 2; j++ {
			if reg[j] != -1 {
				reg[j] = (reg[j] + j) % c.n
				q ^= c.alphaTo[reg[j]]
			}
		}
		if q == 0 {
			loc = append(loc, i%c.n)
		}
	}

	if len(loc) != 2 {
		return nil, 0, ErrUncorrectable
	}
	corrected[loc[0]] ^= 1
	corrected[loc[1]] ^= 1
	return corrected, 2, nil
}

// FixErrors interprets the low n bits of word (bit n-1 first) as a received
// BCH codeword, replaces word with the corrected codeword on success, and
// reports whether correction succeeded.
func (c *Codec) FixErrors(word uint32) (fixed uint32, ok bool) {
	received := make([]int, c.n)
	tmp := word
	for i := 0; i < c.n; i++ {
		received[i] = int((tmp >> 30) & 1)
		tmp <<= 1
	}

	corrected, _, err := c.Correct(received)
	if err != nil {
		return word, false
	}

	var out uint32
	for i := 0; i < c.n; i++ {
		out <<= 1
		out |= uint32(corrected[i])
	}
	return out, true
}

// ExtractData returns the k data bits carried by a fixed word returned
// from FixErrors. Encode places the parity bits first in the codeword
// (codeword[0:n-k]=parity, codeword[n-k:n]=data), and FixErrors packs the
// codeword MSB-first, so the k data bits land in the low-order end of the
// n-bit field: bits k-1..0.
func (c *Codec) ExtractData(fixed uint32) uint32 {
	mask := uint32(1)<<uint(c.k) - 1
	return fixed & mask
}
