package classify

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ktax/core/index"
	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

// 1 -> 5 -> {10, 20}; 1 -> 30
func testTaxonomy(t testing.TB) *taxonomy.Taxonomy {
	t.Helper()
	tx, err := taxonomy.New(map[uint32]uint32{1: 1, 5: 1, 10: 5, 20: 5, 30: 1})
	require.NoError(t, err)
	return tx
}

func buildIndex(t testing.TB, o kmer.Options, genomes map[string]string, m index.Mapping) *index.Index {
	t.Helper()
	smp, err := kmer.NewSampler(o)
	require.NoError(t, err)
	b := index.NewBuilder(smp, testTaxonomy(t), m, nil)
	for id, seq := range genomes {
		_, err := b.Add(index.Genome{ID: id, Seq: []byte(seq)})
		require.NoError(t, err)
	}
	ix, err := b.Build()
	require.NoError(t, err)
	return ix
}

func engine(t testing.TB, ix *index.Index, cfg Config) *Engine {
	t.Helper()
	e, err := New(ix, nil, cfg)
	require.NoError(t, err)
	return e
}

const (
	shared = "GATTCAGC" // 4 k-mers at k=5
	onlyA  = "CATGTTG"  // 3 k-mers
	onlyB  = "TGACC"    // 1 k-mer
)

func refinementIndex(t testing.TB) *index.Index {
	return buildIndex(t, kmer.Options{K: 5, Stride: 1},
		map[string]string{"a": shared + "N" + onlyA, "b": shared + "N" + onlyB},
		index.Mapping{"a": 10, "b": 20})
}

func TestShortReadUnclassified(t *testing.T) {
	e := engine(t, refinementIndex(t), Config{})
	r := e.Classify(Read{ID: "r", Seq: []byte("ACGT")})
	assert.Equal(t, StatusUnclassified, r.Status)
	assert.Equal(t, Unclassified, r.Taxon)
	assert.Equal(t, 0, r.Votes)
	assert.Equal(t, 0, r.Sampled)
	assert.Equal(t, "r", r.ID)

	r = e.Classify(Read{ID: "empty"})
	assert.Equal(t, StatusUnclassified, r.Status)
}

func TestAbsentKmersUnclassified(t *testing.T) {
	e := engine(t, refinementIndex(t), Config{})
	r := e.Classify(Read{ID: "r", Seq: []byte("AAAAAAAAAAAA")})
	assert.Equal(t, StatusUnclassified, r.Status)
	assert.Equal(t, 8, r.Sampled)
	assert.Equal(t, 0, r.Hits)
}

func TestSingleTaxonRead(t *testing.T) {
	g := "TTGACCATGACGATCGATCGGGCTAGCTAGCATCGACTACG"
	ix := buildIndex(t, kmer.Options{K: 7, Stride: 1}, map[string]string{"g": g}, index.Mapping{"g": 10})
	e := engine(t, ix, Config{})
	r := e.Classify(Read{ID: "r", Seq: []byte(g[3:30])})
	assert.Equal(t, StatusClassified, r.Status)
	assert.Equal(t, uint32(10), r.Taxon)
	assert.Equal(t, r.Sampled, r.Votes)
	assert.Equal(t, 30-3-7+1, r.Sampled)
}

func TestSingleTaxonReadSubsampled(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := make([]byte, 2000)
	for i := range g {
		g[i] = "ACGT"[rng.Intn(4)]
	}
	for _, p := range []kmer.Policy{kmer.PolicyModulo, kmer.PolicyMinimizer, kmer.PolicyPosition} {
		ix := buildIndex(t, kmer.Options{K: 11, Stride: 4, Seed: 9, Policy: p},
			map[string]string{"g": string(g)}, index.Mapping{"g": 10})
		e := engine(t, ix, Config{})
		t.Run(p.String(), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				from := rapid.IntRange(0, len(g)-150).Draw(t, "from")
				r := e.Classify(Read{ID: "r", Seq: g[from : from+150]})
				if r.Status != StatusClassified || r.Taxon != 10 {
					t.Fatalf("read at %d: %+v", from, r)
				}
				if r.Votes != r.Hits {
					t.Fatalf("read at %d: votes %d, hits %d", from, r.Votes, r.Hits)
				}
				if p == kmer.PolicyPosition {
					// every window is sampled; a quarter of them were indexed
					if r.Sampled != 150-11+1 || r.Votes < r.Sampled/4-1 {
						t.Fatalf("read at %d: %+v", from, r)
					}
					return
				}
				if r.Votes != r.Sampled {
					t.Fatalf("read at %d: votes %d, sampled %d", from, r.Votes, r.Sampled)
				}
			})
		})
	}
}

func TestACGTAScenario(t *testing.T) {
	ix := buildIndex(t, kmer.Options{K: 5, Stride: 1},
		map[string]string{"G1": "ACGTA", "G2": "ACGTA"},
		index.Mapping{"G1": 10, "G2": 20})
	h, ok := ix.LookupString("ACGTA")
	require.True(t, ok)
	assert.Equal(t, uint32(5), h.Taxon)

	e := engine(t, ix, Config{})
	r := e.Classify(Read{ID: "r", Seq: []byte(strings.Repeat("ACGTA", 4))})
	assert.Equal(t, StatusClassified, r.Status)
	assert.Equal(t, uint32(5), r.Taxon)
	assert.Equal(t, 4, r.Votes)
}

func TestPairedPooling(t *testing.T) {
	mateA := "AAACAAGAT" // 5 k-mers, taxon 10
	mateB := "GGGCG"     // 1 k-mer, taxon 20
	ix := buildIndex(t, kmer.Options{K: 5, Stride: 1},
		map[string]string{"a": mateA, "b": mateB},
		index.Mapping{"a": 10, "b": 20})
	e := engine(t, ix, Config{})

	r := e.Classify(Read{ID: "p", Seq: []byte(mateA), Mate: []byte(mateB)})
	assert.Equal(t, StatusClassified, r.Status)
	assert.Equal(t, uint32(10), r.Taxon)
	assert.Equal(t, 5, r.Votes)
	assert.Equal(t, 6, r.Sampled)

	swapped := e.Classify(Read{ID: "p", Seq: []byte(mateB), Mate: []byte(mateA)})
	assert.Equal(t, r, swapped)
}

func TestTieResolvesToLCA(t *testing.T) {
	ix := buildIndex(t, kmer.Options{K: 5, Stride: 1},
		map[string]string{"a": "AAACA", "b": "GGGCG"},
		index.Mapping{"a": 10, "b": 20})
	e := engine(t, ix, Config{})
	r := e.Classify(Read{ID: "r", Seq: []byte("AAACANGGGCG")})
	assert.Equal(t, StatusClassified, r.Status)
	assert.Equal(t, uint32(5), r.Taxon)
	assert.Equal(t, 1, r.Votes)
	assert.Equal(t, 5, r.Invalid)
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, 1, Config{}.Threshold(0))
	assert.Equal(t, 1, Config{}.Threshold(100))
	assert.Equal(t, 3, Config{MinHits: 3}.Threshold(2))
	assert.Equal(t, 50, Config{MinHits: 3, MinHitFraction: 0.5}.Threshold(100))
	assert.Equal(t, 51, Config{MinHitFraction: 0.5}.Threshold(101))

	e := engine(t, refinementIndex(t), Config{MinHitFraction: 0.9})
	r := e.Classify(Read{ID: "r", Seq: []byte(onlyB + "AAAAAAAAA")})
	assert.Equal(t, StatusUnclassified, r.Status)
	assert.Equal(t, 1, r.Votes)
	assert.Equal(t, Unclassified, r.Taxon)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.ErrorIs(t, Config{MinHits: -1}.Validate(), ErrConfig)
	assert.ErrorIs(t, Config{MinHitFraction: 1.5}.Validate(), ErrConfig)
	assert.ErrorIs(t, Config{Iterations: -2}.Validate(), ErrConfig)
	_, err := New(refinementIndex(t), nil, Config{MinHitFraction: -0.1})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRefinement(t *testing.T) {
	ix := refinementIndex(t)
	read := Read{ID: "r", Seq: []byte(shared + "N" + onlyA + "N" + onlyB)}

	one := engine(t, ix, Config{Iterations: 1}).Classify(read)
	assert.Equal(t, uint32(5), one.Taxon)
	assert.Equal(t, 4, one.Votes)
	assert.Equal(t, 1, one.Passes)

	two := engine(t, ix, Config{Iterations: 2}).Classify(read)
	assert.Equal(t, uint32(10), two.Taxon)
	assert.Equal(t, 3, two.Votes)
	assert.Equal(t, 2, two.Passes)

	// 10 is a leaf, so the third pass converges and the loop stops there
	many := engine(t, ix, Config{Iterations: 10}).Classify(read)
	assert.Equal(t, uint32(10), many.Taxon)
	assert.Equal(t, 3, many.Votes)
	assert.Equal(t, 3, many.Passes)

	// refinement never descends below the threshold
	strict := engine(t, ix, Config{Iterations: 5, MinHits: 4}).Classify(read)
	assert.Equal(t, uint32(5), strict.Taxon)
	assert.Equal(t, 2, strict.Passes)
}

func revComp(s string) string {
	out := make([]byte, len(s))
	for i := range s {
		out[len(s)-1-i] = map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'N': 'N'}[s[i]]
	}
	return string(out)
}

func TestStrandInvariance(t *testing.T) {
	g := "TTGACCATGACGATCGATCGGGCTAGCTAGCATCGACTACGGATTCAGCCATGTTG"
	ix := buildIndex(t, kmer.Options{K: 9, Stride: 3, Seed: 17},
		map[string]string{"a": g[:35], "b": g[20:]},
		index.Mapping{"a": 10, "b": 30})
	e := engine(t, ix, Config{Iterations: 3})
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.IntRange(0, len(g)).Draw(t, "from")
		to := rapid.IntRange(from, len(g)).Draw(t, "to")
		seq := g[from:to]
		fwd := e.Classify(Read{ID: "x", Seq: []byte(seq)})
		rev := e.Classify(Read{ID: "x", Seq: []byte(revComp(seq))})
		if fwd != rev {
			t.Fatalf("strand changed the call: %+v vs %+v", fwd, rev)
		}
	})
}
