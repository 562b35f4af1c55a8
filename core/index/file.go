// core/index/file.go
package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/zeebo/xxh3"
	"google.golang.org/protobuf/encoding/protowire"

	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

// FormatVersion is bumped on any incompatible change to the on-disk layout.
const FormatVersion = 1

const (
	InfoFile  = "info.toml"
	tableBase = "kmers.tab"
	magic     = "KTAX"

	maxPrealloc = 1 << 20
)

var (
	ErrCorrupt = errors.New("index: corrupt index file")
	ErrVersion = errors.New("index: unsupported format version")
)

// Info is the human-readable description written to info.toml.
type Info struct {
	FormatVersion  int    `toml:"format_version"`
	K              int    `toml:"k"`
	Stride         int    `toml:"stride"`
	Seed           uint64 `toml:"seed"`
	Policy         string `toml:"policy"`
	Entries        int    `toml:"entries"`
	Collapsed      int    `toml:"collapsed"`
	TaxonomyNodes  int    `toml:"taxonomy_nodes"`
	Genomes        int    `toml:"genomes"`
	SkippedGenomes int    `toml:"skipped_genomes"`
	Codec          string `toml:"codec"`
	Table          string `toml:"table"`
	Checksum       string `toml:"checksum"`
}

// SaveOptions tune Save. Stats, when set, is recorded in info.toml.
type SaveOptions struct {
	Codec Codec
	Stats *BuildStats
}

// header fields of the table file, protowire-encoded after the magic.
const (
	hVersion protowire.Number = iota + 1
	hK
	hStride
	hSeed
	hPolicy
	hEntries
	hNodes
	hCodec
	hChecksum
)

type header struct {
	version  uint64
	opt      kmer.Options
	entries  uint64
	nodes    uint64
	codec    Codec
	checksum uint64
}

func (h header) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, hVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, h.version)
	b = protowire.AppendTag(b, hK, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.opt.K))
	b = protowire.AppendTag(b, hStride, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.opt.Stride))
	b = protowire.AppendTag(b, hSeed, protowire.VarintType)
	b = protowire.AppendVarint(b, h.opt.Seed)
	b = protowire.AppendTag(b, hPolicy, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.opt.Policy))
	b = protowire.AppendTag(b, hEntries, protowire.VarintType)
	b = protowire.AppendVarint(b, h.entries)
	b = protowire.AppendTag(b, hNodes, protowire.VarintType)
	b = protowire.AppendVarint(b, h.nodes)
	b = protowire.AppendTag(b, hCodec, protowire.BytesType)
	b = protowire.AppendString(b, string(h.codec))
	b = protowire.AppendTag(b, hChecksum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, h.checksum)
	return b
}

func (h *header) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && num >= hVersion && num <= hNodes:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case hVersion:
				h.version = v
			case hK:
				h.opt.K = int(v)
			case hStride:
				h.opt.Stride = int(v)
			case hSeed:
				h.opt.Seed = v
			case hPolicy:
				h.opt.Policy = kmer.Policy(v)
			case hEntries:
				h.entries = v
			case hNodes:
				h.nodes = v
			}
		case num == hCodec && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			h.codec = Codec(v)
		case num == hChecksum && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			h.checksum = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Save writes ix into dir (created if needed): info.toml plus the table file.
// Output is a pure function of the index content and opts.
func Save(dir string, ix *Index, opts SaveOptions) (*Info, error) {
	codec := opts.Codec
	if codec == "" {
		codec = CodecZstd
	}
	if _, err := ParseCodec(string(codec)); err != nil {
		return nil, err
	}
	o := ix.Sampler().Options()
	if o.Seed > math.MaxInt64 {
		return nil, fmt.Errorf("index: seed %d does not fit info.toml", o.Seed)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create index dir %s", dir)
	}

	sum := xxh3.New()
	if err := writeBody(sum, ix); err != nil {
		return nil, err
	}
	h := header{
		version:  FormatVersion,
		opt:      o,
		entries:  uint64(ix.Len()),
		nodes:    uint64(ix.Taxonomy().Len()),
		codec:    codec,
		checksum: sum.Sum64(),
	}

	table := codec.tableName()
	if err := writeTable(filepath.Join(dir, table), h, ix); err != nil {
		return nil, err
	}

	info := &Info{
		FormatVersion: FormatVersion,
		K:             o.K,
		Stride:        o.Stride,
		Seed:          o.Seed,
		Policy:        o.Policy.String(),
		Entries:       ix.Len(),
		Collapsed:     ix.Collapsed(),
		TaxonomyNodes: ix.Taxonomy().Len(),
		Codec:         string(codec),
		Table:         table,
		Checksum:      fmt.Sprintf("%016x", h.checksum),
	}
	if opts.Stats != nil {
		info.Genomes = opts.Stats.Genomes
		info.SkippedGenomes = len(opts.Stats.Skipped)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(info); err != nil {
		return nil, errors.Wrap(err, "encode info")
	}
	if err := os.WriteFile(filepath.Join(dir, InfoFile), buf.Bytes(), 0o644); err != nil {
		return nil, errors.Wrap(err, "write info")
	}
	return info, nil
}

func writeTable(path string, h header, ix *Index) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create table")
	}
	defer func() {
		if cerr := fh.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close table")
		}
	}()
	bw := bufio.NewWriterSize(fh, 1<<20)
	hb := h.marshal()
	if _, err := bw.WriteString(magic); err != nil {
		return err
	}
	if _, err := bw.Write(protowire.AppendVarint(nil, uint64(len(hb)))); err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	zw, err := h.codec.newWriter(bw)
	if err != nil {
		return errors.Wrap(err, "open compressor")
	}
	if err := writeBody(zw, ix); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close compressor")
	}
	return bw.Flush()
}

// writeBody emits taxonomy edges then entries in key order.
func writeBody(w io.Writer, ix *Index) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	var b []byte
	for _, e := range ix.Taxonomy().Edges() {
		b = protowire.AppendVarint(b[:0], uint64(e[0]))
		b = protowire.AppendVarint(b, uint64(e[1]))
		if _, err := bw.Write(b); err != nil {
			return errors.Wrap(err, "write taxonomy")
		}
	}
	var werr error
	ix.Each(func(km kmer.Kmer, hit Hit) bool {
		word := hit.Taxon
		if hit.Collapsed {
			word |= collapsedBit
		}
		b = append(b[:0], km.Key()...)
		b = protowire.AppendVarint(b, uint64(word))
		_, werr = bw.Write(b)
		return werr == nil
	})
	if werr != nil {
		return errors.Wrap(werr, "write entries")
	}
	return bw.Flush()
}

// ReadInfo parses dir/info.toml.
func ReadInfo(dir string) (*Info, error) {
	ok, err := pathutil.DirExists(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "stat index dir %s", dir)
	}
	if !ok {
		return nil, fmt.Errorf("index: directory %s does not exist", dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		return nil, errors.Wrap(err, "read info")
	}
	var info Info
	if err := toml.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrapf(err, "parse %s", InfoFile)
	}
	if info.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, info.FormatVersion)
	}
	return &info, nil
}

// Load reads an index written by Save and verifies its checksum.
func Load(dir string) (*Index, *Info, error) {
	info, err := ReadInfo(dir)
	if err != nil {
		return nil, nil, err
	}
	fh, err := os.Open(filepath.Join(dir, filepath.Base(info.Table)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "open table")
	}
	defer func() { _ = fh.Close() }()

	br := bufio.NewReaderSize(fh, 1<<20)
	h, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}
	if h.version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrVersion, h.version)
	}
	if h.nodes > taxonomy.MaxID || h.entries > 1<<40 {
		return nil, nil, fmt.Errorf("%w: implausible counts", ErrCorrupt)
	}
	if h.opt.K != info.K || h.opt.Stride != info.Stride || h.opt.Seed != info.Seed || h.opt.Policy.String() != info.Policy {
		return nil, nil, fmt.Errorf("%w: header disagrees with %s", ErrCorrupt, InfoFile)
	}
	smp, err := kmer.NewSampler(h.opt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	zr, err := h.codec.newReader(br)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open decompressor")
	}
	defer func() { _ = zr.Close() }()
	sum := xxh3.New()
	body := bufio.NewReaderSize(io.TeeReader(zr, sum), 1<<16)

	edges := make(map[uint32]uint32, sizeHint(h.nodes))
	for i := uint64(0); i < h.nodes; i++ {
		c, err1 := readWord(body)
		p, err2 := readWord(body)
		if err1 != nil || err2 != nil {
			return nil, nil, fmt.Errorf("%w: truncated taxonomy", ErrCorrupt)
		}
		edges[c] = p
	}
	tax, err := taxonomy.New(edges)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var ix *Index
	if h.opt.K > kmer.MaxNarrowK {
		wide := make(map[string]uint32, sizeHint(h.entries))
		key := make([]byte, (h.opt.K+3)/4)
		for i := uint64(0); i < h.entries; i++ {
			if _, err := io.ReadFull(body, key); err != nil {
				return nil, nil, fmt.Errorf("%w: truncated entries", ErrCorrupt)
			}
			w, err := readWord(body)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: truncated entries", ErrCorrupt)
			}
			wide[string(key)] = w
		}
		ix = newIndex(smp, tax, nil, nil, wide)
	} else {
		keys := make([]uint64, 0, sizeHint(h.entries))
		vals := make([]uint32, 0, sizeHint(h.entries))
		var key [8]byte
		for i := uint64(0); i < h.entries; i++ {
			if _, err := io.ReadFull(body, key[:]); err != nil {
				return nil, nil, fmt.Errorf("%w: truncated entries", ErrCorrupt)
			}
			w, err := readWord(body)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: truncated entries", ErrCorrupt)
			}
			c := binary.BigEndian.Uint64(key[:])
			if n := len(keys); n > 0 && c <= keys[n-1] {
				return nil, nil, fmt.Errorf("%w: keys out of order", ErrCorrupt)
			}
			keys = append(keys, c)
			vals = append(vals, w)
		}
		ix = newIndex(smp, tax, keys, vals, nil)
	}
	if _, err := body.ReadByte(); err != io.EOF {
		return nil, nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	if sum.Sum64() != h.checksum {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return ix, info, nil
}

// sizeHint caps preallocation for a count taken from the header; the
// containers grow past it only as entries actually arrive.
func sizeHint(n uint64) int {
	if n > maxPrealloc {
		return maxPrealloc
	}
	return int(n)
}

func readHeader(br *bufio.Reader) (header, error) {
	var h header
	m := make([]byte, len(magic))
	if _, err := io.ReadFull(br, m); err != nil || string(m) != magic {
		return h, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	n, err := binary.ReadUvarint(br)
	if err != nil || n > 1<<16 {
		return h, fmt.Errorf("%w: bad header length", ErrCorrupt)
	}
	hb := make([]byte, n)
	if _, err := io.ReadFull(br, hb); err != nil {
		return h, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if err := h.unmarshal(hb); err != nil {
		return h, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return h, nil
}

func readWord(r io.ByteReader) (uint32, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, ErrCorrupt
	}
	return uint32(v), nil
}
