// Package index maps canonical k-mers to a single taxon each. An Index is
// produced by a Builder (or loaded from disk), is immutable afterwards, and
// may be queried by any number of goroutines without synchronization.
package index

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/xxh3"

	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

// collapsedBit marks an entry whose taxon is the LCA of several contributors.
const collapsedBit = 1 << 31

// Hit is the result of a successful lookup.
type Hit struct {
	Taxon uint32
	// Collapsed is true when genomes of more than one taxon contributed the
	// k-mer and Taxon is their lowest common ancestor.
	Collapsed bool
}

func hitOf(w uint32) Hit { return Hit{Taxon: w &^ collapsedBit, Collapsed: w&collapsedBit != 0} }

// Index is the frozen k-mer -> taxon mapping. k <= 32 uses sorted parallel
// arrays with binary search; longer k-mers use a hash map.
type Index struct {
	smp *kmer.Sampler
	tax *taxonomy.Taxonomy

	keys []uint64
	vals []uint32
	wide map[string]uint32

	collapsed int
}

func newIndex(smp *kmer.Sampler, tax *taxonomy.Taxonomy, keys []uint64, vals []uint32, wide map[string]uint32) *Index {
	ix := &Index{smp: smp, tax: tax, keys: keys, vals: vals, wide: wide}
	for _, w := range vals {
		if w&collapsedBit != 0 {
			ix.collapsed++
		}
	}
	for _, w := range wide {
		if w&collapsedBit != 0 {
			ix.collapsed++
		}
	}
	return ix
}

// Lookup returns the taxon stored for km. Absent k-mers report false.
func (ix *Index) Lookup(km kmer.Kmer) (Hit, bool) {
	if ix.wide != nil {
		w, ok := ix.wide[km.Packed]
		if !ok {
			return Hit{}, false
		}
		return hitOf(w), true
	}
	i := sort.Search(len(ix.keys), func(i int) bool { return ix.keys[i] >= km.Code })
	if i == len(ix.keys) || ix.keys[i] != km.Code {
		return Hit{}, false
	}
	return hitOf(ix.vals[i]), true
}

// LookupString parses s and looks it up; invalid strings are absent.
func (ix *Index) LookupString(s string) (Hit, bool) {
	if len(s) != ix.K() {
		return Hit{}, false
	}
	km, err := kmer.Parse(s)
	if err != nil {
		return Hit{}, false
	}
	return ix.Lookup(km)
}

// Sampler returns the sampler the index was built with; reads must be
// sampled with it for lookups to be meaningful.
func (ix *Index) Sampler() *kmer.Sampler       { return ix.smp }
func (ix *Index) Taxonomy() *taxonomy.Taxonomy { return ix.tax }
func (ix *Index) K() int                       { return ix.smp.K() }
func (ix *Index) Collapsed() int               { return ix.collapsed }

func (ix *Index) Len() int {
	if ix.wide != nil {
		return len(ix.wide)
	}
	return len(ix.keys)
}

// Each visits entries in ascending k-mer order. Returning false stops early.
func (ix *Index) Each(fn func(km kmer.Kmer, h Hit) bool) {
	if ix.wide == nil {
		for i, c := range ix.keys {
			if !fn(kmer.Kmer{Code: c}, hitOf(ix.vals[i])) {
				return
			}
		}
		return
	}
	keys := make([]string, 0, len(ix.wide))
	for k := range ix.wide {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(kmer.Kmer{Packed: k}, hitOf(ix.wide[k])) {
			return
		}
	}
}

// Checksum is an xxh3 digest of the sampler options and every entry in
// key order. Two indexes with equal checksums answer every lookup alike.
func (ix *Index) Checksum() uint64 {
	h := xxh3.New()
	var b [8]byte
	o := ix.smp.Options()
	for _, v := range []uint64{uint64(o.K), uint64(o.Stride), o.Seed, uint64(o.Policy)} {
		binary.LittleEndian.PutUint64(b[:], v)
		_, _ = h.Write(b[:])
	}
	ix.Each(func(km kmer.Kmer, hit Hit) bool {
		_, _ = h.Write(km.Key())
		w := hit.Taxon
		if hit.Collapsed {
			w |= collapsedBit
		}
		binary.LittleEndian.PutUint32(b[:4], w)
		_, _ = h.Write(b[:4])
		return true
	})
	return h.Sum64()
}
