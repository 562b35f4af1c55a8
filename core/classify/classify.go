// Package classify assigns reads to taxa by voting over index hits.
package classify

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"ktax/core/index"
	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

// Unclassified is the taxon reported when evidence is insufficient.
const Unclassified uint32 = 0

// Status is the one-letter outcome written to output.
type Status byte

const (
	StatusClassified   Status = 'C'
	StatusUnclassified Status = 'U'
	StatusSkipped      Status = 'S'
)

func (s Status) String() string { return string(rune(s)) }

var ErrConfig = errors.New("classify: invalid config")

// Read is a single-end read (Mate nil) or a pair classified jointly.
type Read struct {
	ID   string
	Seq  []byte
	Mate []byte
}

func (r Read) Paired() bool { return r.Mate != nil }

// Result is the call for one read or pair.
type Result struct {
	ID      string
	Status  Status
	Taxon   uint32
	Votes   int // hits supporting Taxon
	Hits    int // sampled k-mers found in the index
	Sampled int // valid sampled k-mers across all mates
	Invalid int // windows skipped for non-ACGT symbols
	Passes  int
	Reason  string // set only for StatusSkipped
}

// Skipped builds the result for a record that could not be classified.
func Skipped(id, reason string) Result {
	return Result{ID: id, Status: StatusSkipped, Taxon: Unclassified, Reason: reason}
}

// Config tunes the vote resolution.
type Config struct {
	// MinHits is the absolute vote floor; values below 1 mean 1.
	MinHits int
	// MinHitFraction scales the floor with the number of sampled k-mers.
	MinHitFraction float64
	// Iterations bounds the refinement passes; 0 means 1 (no refinement).
	Iterations int
}

func (c Config) withDefaults() Config {
	if c.MinHits < 1 {
		c.MinHits = 1
	}
	if c.Iterations < 1 {
		c.Iterations = 1
	}
	return c
}

func (c Config) Validate() error {
	if c.MinHits < 0 {
		return fmt.Errorf("%w: min hits %d < 0", ErrConfig, c.MinHits)
	}
	if math.IsNaN(c.MinHitFraction) || c.MinHitFraction < 0 || c.MinHitFraction > 1 {
		return fmt.Errorf("%w: min hit fraction %v not in [0,1]", ErrConfig, c.MinHitFraction)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("%w: iterations %d < 0", ErrConfig, c.Iterations)
	}
	return nil
}

// Threshold is the vote count a call needs given the sampled k-mer count.
func (c Config) Threshold(sampled int) int {
	c = c.withDefaults()
	t := int(math.Ceil(c.MinHitFraction * float64(sampled)))
	if t < c.MinHits {
		t = c.MinHits
	}
	return t
}

// Engine classifies reads against a frozen index. It is safe for
// concurrent use.
type Engine struct {
	ix   *index.Index
	tax  *taxonomy.Taxonomy
	smp  *kmer.Sampler
	cfg  Config
	pool sync.Pool
}

// New returns an Engine. tax may be nil to use the index's own taxonomy.
func New(ix *index.Index, tax *taxonomy.Taxonomy, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tax == nil {
		tax = ix.Taxonomy()
	}
	e := &Engine{ix: ix, tax: tax, smp: ix.Sampler().Query(), cfg: cfg.withDefaults()}
	e.pool.New = func() any { return make(map[uint32]int) }
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Classify samples every mate of r into one evidence pool, votes, and
// refines the call down the taxonomy for up to Config.Iterations passes.
func (e *Engine) Classify(r Read) Result {
	res := Result{ID: r.ID, Status: StatusUnclassified, Taxon: Unclassified}
	counts := e.pool.Get().(map[uint32]int)
	defer func() {
		clear(counts)
		e.pool.Put(counts)
	}()

	collect := func(_ int, km kmer.Kmer) {
		res.Sampled++
		if h, ok := e.ix.Lookup(km); ok {
			res.Hits++
			counts[h.Taxon]++
		}
	}
	res.Invalid = e.smp.ForEach(r.Seq, collect)
	if r.Mate != nil {
		res.Invalid += e.smp.ForEach(r.Mate, collect)
	}
	if res.Sampled == 0 {
		return res
	}

	res.Passes = 1
	taxon, votes := e.vote(counts)
	threshold := e.cfg.Threshold(res.Sampled)
	if votes < threshold {
		res.Votes = votes
		return res
	}

	for res.Passes < e.cfg.Iterations {
		res.Passes++
		next, nv := e.refine(counts, taxon, votes, threshold)
		if next == taxon && nv == votes {
			break
		}
		taxon, votes = next, nv
	}
	res.Status = StatusClassified
	res.Taxon = taxon
	res.Votes = votes
	return res
}

// vote returns the most supported taxon; ties resolve to the LCA of the
// tied taxa, keeping the tied count.
func (e *Engine) vote(counts map[uint32]int) (uint32, int) {
	var best uint32
	top := 0
	for t, n := range counts {
		switch {
		case n > top:
			best, top = t, n
		case n == top:
			best = e.tax.LCA(best, t)
		}
	}
	return best, top
}

// refine scores each child clade of taxon by the hits inside it and steps
// into the single best clade when it still meets the threshold.
func (e *Engine) refine(counts map[uint32]int, taxon uint32, votes, threshold int) (uint32, int) {
	clades := make(map[uint32]int)
	for t, n := range counts {
		if c, ok := e.tax.ChildToward(taxon, t); ok {
			clades[c] += n
		}
	}
	var best uint32
	top, tied := 0, false
	for c, n := range clades {
		switch {
		case n > top:
			best, top, tied = c, n, false
		case n == top:
			tied = true
		}
	}
	if top == 0 || tied || top < threshold {
		return taxon, votes
	}
	return best, top
}
