// core/index/builder.go
package index

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/twotwotwo/sorts/sortutil"

	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

var (
	ErrNoGenomes = errors.New("index: no usable genomes")
	ErrFrozen    = errors.New("index: builder already built")
)

// Skip reasons reported for genomes that do not enter the index.
const (
	SkipUnmapped     = "genome id not in mapping"
	SkipUnknownTaxon = "taxon not in taxonomy"
	SkipNoKmers      = "no sampled k-mers"
)

// Genome is one reference sequence. ID is looked up in the Mapping.
type Genome struct {
	ID  string
	Seq []byte
}

// Mapping resolves genome ids to taxon ids.
type Mapping map[string]uint32

// SkippedGenome records a genome left out of the index.
type SkippedGenome struct {
	ID     string
	Taxon  uint32
	Reason string
}

// BuildStats summarize a build.
type BuildStats struct {
	Genomes        int
	Skipped        []SkippedGenome
	SampledKmers   int64
	InvalidWindows int64
	Entries        int
	Collapsed      int
}

// Builder accumulates genomes into an Index. It is single-threaded.
type Builder struct {
	smp     *kmer.Sampler
	tax     *taxonomy.Taxonomy
	mapping Mapping
	log     logrus.FieldLogger

	narrow map[uint64]uint32
	wide   map[string]uint32
	stats  BuildStats
	frozen bool
}

// NewBuilder returns a Builder. log may be nil.
func NewBuilder(smp *kmer.Sampler, tax *taxonomy.Taxonomy, mapping Mapping, log logrus.FieldLogger) *Builder {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	b := &Builder{smp: smp, tax: tax, mapping: mapping, log: log}
	if smp.K() > kmer.MaxNarrowK {
		b.wide = make(map[string]uint32)
	} else {
		b.narrow = make(map[uint64]uint32)
	}
	return b
}

// Add samples g into the builder. Genomes that cannot be attributed to a
// known taxon, or that yield no sampled k-mer, are logged, recorded in Stats
// and skipped; added is false.
func (b *Builder) Add(g Genome) (added bool, err error) {
	if b.frozen {
		return false, ErrFrozen
	}
	taxon, ok := b.mapping[g.ID]
	if !ok {
		b.skip(g.ID, 0, SkipUnmapped)
		return false, nil
	}
	if !b.tax.Has(taxon) {
		b.skip(g.ID, taxon, SkipUnknownTaxon)
		return false, nil
	}

	var sampled int64
	invalid := b.smp.ForEach(g.Seq, func(_ int, km kmer.Kmer) {
		sampled++
		if b.wide != nil {
			old, seen := b.wide[km.Packed]
			b.wide[km.Packed] = b.merge(old, seen, taxon)
			return
		}
		old, seen := b.narrow[km.Code]
		b.narrow[km.Code] = b.merge(old, seen, taxon)
	})
	b.stats.InvalidWindows += int64(invalid)
	if sampled == 0 {
		b.skip(g.ID, taxon, SkipNoKmers)
		return false, nil
	}
	b.stats.Genomes++
	b.stats.SampledKmers += sampled
	return true, nil
}

func (b *Builder) skip(id string, taxon uint32, reason string) {
	b.stats.Skipped = append(b.stats.Skipped, SkippedGenome{ID: id, Taxon: taxon, Reason: reason})
	b.log.WithFields(logrus.Fields{"genome": id, "taxon": taxon}).Warn(reason + "; skipping")
}

// merge folds taxon into an existing entry word by LCA.
func (b *Builder) merge(old uint32, seen bool, taxon uint32) uint32 {
	if !seen {
		return taxon
	}
	prev := old &^ collapsedBit
	if prev == taxon {
		return old
	}
	return b.tax.LCA(prev, taxon) | collapsedBit
}

// Stats returns a snapshot of the build statistics so far.
func (b *Builder) Stats() BuildStats {
	s := b.stats
	s.Skipped = append([]SkippedGenome(nil), b.stats.Skipped...)
	return s
}

// Build freezes the builder into an Index. It fails when no genome was usable.
func (b *Builder) Build() (*Index, error) {
	if b.frozen {
		return nil, ErrFrozen
	}
	if b.stats.Genomes == 0 {
		return nil, ErrNoGenomes
	}
	b.frozen = true

	var ix *Index
	if b.wide != nil {
		ix = newIndex(b.smp, b.tax, nil, nil, b.wide)
		b.wide = nil
	} else {
		keys := make([]uint64, 0, len(b.narrow))
		for c := range b.narrow {
			keys = append(keys, c)
		}
		sortutil.Uint64s(keys)
		vals := make([]uint32, len(keys))
		for i, c := range keys {
			vals[i] = b.narrow[c]
		}
		b.narrow = nil
		ix = newIndex(b.smp, b.tax, keys, vals, nil)
	}
	b.stats.Entries = ix.Len()
	b.stats.Collapsed = ix.Collapsed()
	return ix, nil
}
