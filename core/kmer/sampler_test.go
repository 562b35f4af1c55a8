package kmer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustSampler(t testing.TB, o Options) *Sampler {
	t.Helper()
	s, err := NewSampler(o)
	require.NoError(t, err)
	return s
}

func positions(s *Sampler, seq string) []int {
	var out []int
	s.ForEach([]byte(seq), func(pos int, _ Kmer) { out = append(out, pos) })
	return out
}

func TestNewSamplerValidates(t *testing.T) {
	_, err := NewSampler(Options{K: 0, Stride: 1})
	assert.ErrorIs(t, err, ErrKRange)
	_, err = NewSampler(Options{K: 256, Stride: 1})
	assert.ErrorIs(t, err, ErrKRange)
	_, err = NewSampler(Options{K: 5, Stride: 0})
	assert.ErrorIs(t, err, ErrStride)
	_, err = NewSampler(Options{K: 5, Stride: 1, Policy: Policy(9)})
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{
		"": PolicyModulo, "modulo": PolicyModulo, "MIN": PolicyMinimizer, "position": PolicyPosition,
	} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		again, err := ParsePolicy(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
	_, err := ParsePolicy("random")
	assert.Error(t, err)
}

func TestStrideOneEmitsEveryWindow(t *testing.T) {
	s := mustSampler(t, Options{K: 4, Stride: 1})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, positions(s, "ACGTACGT"))
	assert.Empty(t, positions(s, "ACG"))
	assert.Empty(t, positions(s, ""))
}

func TestInvalidWindowsSkipped(t *testing.T) {
	s := mustSampler(t, Options{K: 3, Stride: 1})
	var got []int
	invalid := s.ForEach([]byte("ACGTNACGT"), func(pos int, _ Kmer) { got = append(got, pos) })
	assert.Equal(t, []int{0, 1, 5, 6}, got)
	assert.Equal(t, 3, invalid)

	invalid = s.ForEach([]byte("NNNNN"), func(int, Kmer) { t.Fatal("nothing should be emitted") })
	assert.Equal(t, 3, invalid)
}

func TestIterResetRestarts(t *testing.T) {
	s := mustSampler(t, Options{K: 5, Stride: 3, Seed: 11, Policy: PolicyMinimizer})
	seq := []byte("ACGTTGCANNACGGTACCATGGACTTACGATCG")
	it := s.Iter(seq)
	var first []Kmer
	for km, ok := it.Next(); ok; km, ok = it.Next() {
		first = append(first, km)
	}
	inv := it.Invalid()
	it.Reset()
	var second []Kmer
	for km, ok := it.Next(); ok; km, ok = it.Next() {
		second = append(second, km)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, inv, it.Invalid())
}

func TestPositionPolicy(t *testing.T) {
	s := mustSampler(t, Options{K: 2, Stride: 3, Seed: 4, Policy: PolicyPosition})
	assert.Equal(t, []int{1, 4, 7}, positions(s, "ACGTACGTAC"))
}

func TestQuerySampler(t *testing.T) {
	pos := mustSampler(t, Options{K: 2, Stride: 3, Seed: 4, Policy: PolicyPosition})
	q := pos.Query()
	assert.Equal(t, Options{K: 2, Stride: 1, Seed: 4, Policy: PolicyPosition}, q.Options())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, positions(q, "ACGTACGTAC"))
	assert.Equal(t, Options{K: 2, Stride: 3, Seed: 4, Policy: PolicyPosition}, pos.Options())

	for _, p := range []Policy{PolicyModulo, PolicyMinimizer} {
		s := mustSampler(t, Options{K: 5, Stride: 4, Seed: 1, Policy: p})
		assert.Same(t, s, s.Query(), p.String())
	}
	one := mustSampler(t, Options{K: 5, Stride: 1, Policy: PolicyPosition})
	assert.Same(t, one, one.Query())
}

func TestModuloIsContentBased(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 40).Draw(t, "k")
		stride := rapid.IntRange(1, 8).Draw(t, "stride")
		seed := rapid.Uint64().Draw(t, "seed")
		s, err := NewSampler(Options{K: k, Stride: stride, Seed: seed})
		if err != nil {
			t.Fatal(err)
		}
		full := genDNA(0, 200).Draw(t, "seq")
		from := rapid.IntRange(0, len(full)).Draw(t, "from")
		to := rapid.IntRange(from, len(full)).Draw(t, "to")

		inFull := map[Kmer]bool{}
		for _, km := range s.Collect([]byte(full)) {
			inFull[km] = true
		}
		for _, km := range s.Collect([]byte(full[from:to])) {
			if !inFull[km] {
				t.Fatalf("k-mer sampled from substring but not from the full sequence")
			}
		}
		rc := s.Collect([]byte(revComp(full)))
		if len(rc) != len(s.Collect([]byte(full))) {
			t.Fatalf("strand changed the number of sampled k-mers")
		}
	})
}

func TestMinimizerCoversEveryWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 12).Draw(t, "k")
		w := rapid.IntRange(1, 10).Draw(t, "w")
		s, err := NewSampler(Options{K: k, Stride: w, Seed: 3, Policy: PolicyMinimizer})
		if err != nil {
			t.Fatal(err)
		}
		seq := genDNA(0, 150).Draw(t, "seq")
		pos := positions(s, seq)
		nwin := len(seq) - k + 1
		if nwin <= 0 {
			if len(pos) != 0 {
				t.Fatalf("emitted from a sequence shorter than k")
			}
			return
		}
		if len(pos) == 0 {
			t.Fatalf("no minimizer for %d windows", nwin)
		}
		for i := 1; i < len(pos); i++ {
			if pos[i] <= pos[i-1] || pos[i]-pos[i-1] > w {
				t.Fatalf("gap between minimizers %d and %d exceeds window %d", pos[i-1], pos[i], w)
			}
		}
		if pos[0] >= w || pos[len(pos)-1] < nwin-w {
			t.Fatalf("first/last minimizer leaves an uncovered window: %v (nwin=%d)", pos, nwin)
		}
	})
}

func TestSamplingDeterministic(t *testing.T) {
	seq := []byte("TTGACCATGACGATCGATCGGGCTAGCTAGCATCGACTACGACTTTACG")
	for _, p := range []Policy{PolicyModulo, PolicyMinimizer, PolicyPosition} {
		a := mustSampler(t, Options{K: 7, Stride: 4, Seed: 99, Policy: p})
		b := mustSampler(t, Options{K: 7, Stride: 4, Seed: 99, Policy: p})
		assert.Equal(t, a.Collect(seq), b.Collect(seq), p.String())
	}
}
