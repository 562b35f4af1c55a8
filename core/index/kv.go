// core/index/kv.go
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

// KV is the subset of an ordered key-value store needed to mirror an index.
// ForEachWithPrefix must visit keys in ascending byte order.
type KV interface {
	WriteBatch(pairs [][2][]byte) error
	ForEachWithPrefix(prefix []byte, fn func(k, v []byte) error) error
}

var (
	kvMeta   = []byte("m/opt")
	kvTaxon  = []byte("t/")
	kvKmer   = []byte("k/")
	kvChunks = 10000
)

// KVPrefixes are the key prefixes an index mirror occupies.
func KVPrefixes() [][]byte {
	return [][]byte{kvKmer, kvTaxon, kvMeta[:2]}
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func prefixed(p, k []byte) []byte {
	out := make([]byte, 0, len(p)+len(k))
	return append(append(out, p...), k...)
}

// SaveKV mirrors ix into kv. The meta record carries the sampler options and
// the content checksum that LoadKV verifies.
func SaveKV(kv KV, ix *Index) error {
	h := header{
		version:  FormatVersion,
		opt:      ix.Sampler().Options(),
		entries:  uint64(ix.Len()),
		nodes:    uint64(ix.Taxonomy().Len()),
		codec:    CodecNone,
		checksum: ix.Checksum(),
	}
	batch := make([][2][]byte, 0, kvChunks)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := kv.WriteBatch(batch); err != nil {
			return errors.Wrap(err, "kv write batch")
		}
		batch = batch[:0]
		return nil
	}
	add := func(k, v []byte) error {
		batch = append(batch, [2][]byte{k, v})
		if len(batch) == kvChunks {
			return flush()
		}
		return nil
	}

	for _, e := range ix.Taxonomy().Edges() {
		if err := add(prefixed(kvTaxon, be32(e[0])), be32(e[1])); err != nil {
			return err
		}
	}
	var err error
	ix.Each(func(km kmer.Kmer, hit Hit) bool {
		w := hit.Taxon
		if hit.Collapsed {
			w |= collapsedBit
		}
		err = add(prefixed(kvKmer, km.Key()), be32(w))
		return err == nil
	})
	if err != nil {
		return err
	}
	// meta last so a partial mirror is not mistaken for a complete one
	if err := add(append([]byte(nil), kvMeta...), h.marshal()); err != nil {
		return err
	}
	return flush()
}

// LoadKV rebuilds an index mirrored by SaveKV.
func LoadKV(kv KV) (*Index, error) {
	var h header
	found := false
	err := kv.ForEachWithPrefix(kvMeta, func(k, v []byte) error {
		if string(k) != string(kvMeta) {
			return nil
		}
		found = true
		return h.unmarshal(v)
	})
	if err != nil {
		return nil, errors.Wrap(err, "kv read meta")
	}
	if !found {
		return nil, fmt.Errorf("%w: kv store has no index meta", ErrCorrupt)
	}
	if h.version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, h.version)
	}
	smp, err := kmer.NewSampler(h.opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	edges := make(map[uint32]uint32)
	err = kv.ForEachWithPrefix(kvTaxon, func(k, v []byte) error {
		if len(k) != len(kvTaxon)+4 || len(v) != 4 {
			return fmt.Errorf("%w: bad taxonomy record", ErrCorrupt)
		}
		edges[binary.BigEndian.Uint32(k[len(kvTaxon):])] = binary.BigEndian.Uint32(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	tax, err := taxonomy.New(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var (
		keys []uint64
		vals []uint32
		wide map[string]uint32
	)
	if h.opt.K > kmer.MaxNarrowK {
		wide = make(map[string]uint32, h.entries)
	}
	err = kv.ForEachWithPrefix(kvKmer, func(k, v []byte) error {
		if len(v) != 4 {
			return fmt.Errorf("%w: bad k-mer record", ErrCorrupt)
		}
		km, err := kmer.FromKey(k[len(kvKmer):], h.opt.K)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		w := binary.BigEndian.Uint32(v)
		if wide != nil {
			wide[km.Packed] = w
			return nil
		}
		keys = append(keys, km.Code)
		vals = append(vals, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ix := newIndex(smp, tax, keys, vals, wide)
	if uint64(ix.Len()) != h.entries || ix.Checksum() != h.checksum {
		return nil, fmt.Errorf("%w: kv checksum mismatch", ErrCorrupt)
	}
	return ix, nil
}
