// core/kmer/kmer.go
package kmer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shenwei356/kmers"
	"github.com/zeebo/wyhash"
)

const (
	// MaxK is the largest supported k-mer length.
	MaxK = 255
	// MaxNarrowK is the largest k that packs into a single uint64.
	MaxNarrowK = 32
)

var (
	ErrKRange  = errors.New("kmer: k must be in [1,255]")
	ErrStride  = errors.New("kmer: stride must be >= 1")
	ErrInvalid = errors.New("kmer: window contains a non-ACGT symbol")
)

// Kmer is a canonical 2-bit packed k-mer (A=0 C=1 G=2 T=3, first base most
// significant). For k <= 32 the value lives in Code and Packed is empty;
// longer k-mers are packed into Packed, ceil(k/4) bytes. In both forms
// ordering matches lexicographic order of the bases.
type Kmer struct {
	Code   uint64
	Packed string
}

// Wide reports whether km uses the packed representation.
func (km Kmer) Wide() bool { return km.Packed != "" }

// Hash returns a seeded hash of the canonical k-mer.
func (km Kmer) Hash(seed uint64) uint64 {
	if km.Packed != "" {
		return wyhash.HashString(km.Packed, seed)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], km.Code)
	return wyhash.Hash(b[:], seed)
}

// Key returns an order-preserving byte key for storage.
func (km Kmer) Key() []byte {
	if km.Packed != "" {
		return []byte(km.Packed)
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], km.Code)
	return b[:]
}

// FromKey is the inverse of Key for a k-mer of length k.
func FromKey(key []byte, k int) (Kmer, error) {
	if k > MaxNarrowK {
		if len(key) != packedLen(k) {
			return Kmer{}, fmt.Errorf("kmer: key length %d, want %d", len(key), packedLen(k))
		}
		return Kmer{Packed: string(key)}, nil
	}
	if len(key) != 8 {
		return Kmer{}, fmt.Errorf("kmer: key length %d, want 8", len(key))
	}
	return Kmer{Code: binary.BigEndian.Uint64(key)}, nil
}

// String decodes km back to bases.
func (km Kmer) String(k int) string {
	if km.Packed == "" {
		return string(kmers.MustDecode(km.Code, k))
	}
	out := make([]byte, k)
	for i := 0; i < k; i++ {
		out[i] = "ACGT"[(km.Packed[i>>2]>>(6-2*uint(i&3)))&3]
	}
	return string(out)
}

// Parse encodes s as a canonical k-mer with k = len(s).
func Parse(s string) (Kmer, error) {
	k := len(s)
	if k < 1 || k > MaxK {
		return Kmer{}, ErrKRange
	}
	w := []byte(s)
	for _, b := range w {
		if baseCode(b) > 3 {
			return Kmer{}, ErrInvalid
		}
	}
	return encodeWindow(w, make([]byte, k)), nil
}

// baseCode maps a symbol to its 2-bit code; 4 means not A/C/G/T.
func baseCode(b byte) uint8 {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	default:
		return 4
	}
}

func packedLen(k int) int { return (k + 3) / 4 }

// encodeWindow canonicalizes an all-ACGT window. buf is scratch of len(w).
func encodeWindow(w, buf []byte) Kmer {
	k := len(w)
	for i, b := range w {
		buf[i] = "ACGT"[baseCode(b)]
	}
	if k <= MaxNarrowK {
		code, err := kmers.Encode(buf)
		if err != nil {
			// unreachable: the window was validated by the caller
			panic(err)
		}
		if rc := kmers.RevComp(code, k); rc < code {
			code = rc
		}
		return Kmer{Code: code}
	}

	n := packedLen(k)
	fwd := make([]byte, n)
	rev := make([]byte, n)
	for i := 0; i < k; i++ {
		shift := 6 - 2*uint(i&3)
		fwd[i>>2] |= baseCode(buf[i]) << shift
		rev[i>>2] |= (3 - baseCode(buf[k-1-i])) << shift
	}
	if string(rev) < string(fwd) {
		return Kmer{Packed: string(rev)}
	}
	return Kmer{Packed: string(fwd)}
}
