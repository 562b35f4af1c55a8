package kmer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func revComp(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		var c byte
		switch s[len(s)-1-i] {
		case 'A':
			c = 'T'
		case 'C':
			c = 'G'
		case 'G':
			c = 'C'
		case 'T':
			c = 'A'
		}
		out[i] = c
	}
	return string(out)
}

func minStr(a, b string) string {
	if b < a {
		return b
	}
	return a
}

func genDNA(min, max int) *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		b := rapid.SliceOfN(rapid.SampledFrom([]byte("ACGT")), min, max).Draw(t, "dna")
		return string(b)
	})
}

func TestParseCanonical(t *testing.T) {
	a, err := Parse("ACGTA")
	require.NoError(t, err)
	b, err := Parse("TACGT")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "ACGTA", a.String(5))

	tt, err := Parse("TTTTT")
	require.NoError(t, err)
	assert.Equal(t, "AAAAA", tt.String(5))
	assert.False(t, tt.Wide())
}

func TestParseRejects(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrKRange)
	_, err = Parse(strings.Repeat("A", MaxK+1))
	assert.ErrorIs(t, err, ErrKRange)
	_, err = Parse("ACNGT")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseLowercase(t *testing.T) {
	a, err := Parse("acgtt")
	require.NoError(t, err)
	b, err := Parse("ACGTT")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genDNA(1, MaxK).Draw(t, "s")
		a, err := Parse(s)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		b, err := Parse(revComp(s))
		if err != nil {
			t.Fatalf("parse rc: %v", err)
		}
		if a != b {
			t.Fatalf("%s and its reverse complement encode differently", s)
		}
		if got, want := a.String(len(s)), minStr(s, revComp(s)); got != want {
			t.Fatalf("decode: got %s want %s", got, want)
		}
		if a.Wide() != (len(s) > MaxNarrowK) {
			t.Fatalf("wide flag wrong for k=%d", len(s))
		}
	})
}

func TestKeyRoundTrip(t *testing.T) {
	for _, k := range []int{1, 17, 32, 33, 64, 255} {
		s := strings.Repeat("GATC", 64)[:k]
		km, err := Parse(s)
		require.NoError(t, err)
		back, err := FromKey(km.Key(), k)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, km, back, "k=%d", k)
	}
	_, err := FromKey([]byte{1, 2}, 21)
	assert.Error(t, err)
	_, err = FromKey([]byte{1, 2}, 40)
	assert.Error(t, err)
}

func TestKeyOrderMatchesBases(t *testing.T) {
	a, _ := Parse("AACCG")
	b, _ := Parse("AACGA")
	assert.Less(t, string(a.Key()), string(b.Key()))
	assert.Less(t, a.Code, b.Code)
}

func TestHashSeeded(t *testing.T) {
	km, _ := Parse("ACGTACGTAC")
	assert.Equal(t, km.Hash(7), km.Hash(7))
	assert.NotEqual(t, km.Hash(7), km.Hash(8))
}
