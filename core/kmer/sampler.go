// core/kmer/sampler.go
package kmer

import (
	"fmt"
	"strings"
)

// Policy selects which windows a Sampler keeps when Stride > 1.
type Policy int

const (
	// PolicyModulo keeps a k-mer iff hash(kmer, seed) % stride == 0.
	PolicyModulo Policy = iota
	// PolicyMinimizer keeps the smallest-hash k-mer of every run of
	// stride consecutive valid windows.
	PolicyMinimizer
	// PolicyPosition keeps windows at seed%stride, seed%stride+stride, ...
	PolicyPosition
)

func (p Policy) String() string {
	switch p {
	case PolicyModulo:
		return "modulo"
	case PolicyMinimizer:
		return "minimizer"
	case PolicyPosition:
		return "position"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy is the inverse of Policy.String. The empty string is modulo.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "modulo", "mod":
		return PolicyModulo, nil
	case "minimizer", "min":
		return PolicyMinimizer, nil
	case "position", "pos":
		return PolicyPosition, nil
	}
	return 0, fmt.Errorf("kmer: unknown sampling policy %q", s)
}

// Options configure a Sampler.
type Options struct {
	K      int
	Stride int
	Seed   uint64
	Policy Policy
}

// Sampler extracts canonical k-mers from sequences. It holds no per-sequence
// state and is safe for concurrent use.
type Sampler struct {
	opt Options
}

// NewSampler validates o and returns a Sampler.
func NewSampler(o Options) (*Sampler, error) {
	if o.K < 1 || o.K > MaxK {
		return nil, fmt.Errorf("%w: got %d", ErrKRange, o.K)
	}
	if o.Stride < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrStride, o.Stride)
	}
	switch o.Policy {
	case PolicyModulo, PolicyMinimizer, PolicyPosition:
	default:
		return nil, fmt.Errorf("kmer: unknown sampling policy %d", int(o.Policy))
	}
	return &Sampler{opt: o}, nil
}

func (s *Sampler) Options() Options { return s.opt }
func (s *Sampler) K() int           { return s.opt.K }

// Query returns the sampler for reads classified against an index built
// with s. Position sampling depends on offsets within each reference, so
// reads are sampled at every window instead and votes may fall short of the
// sampled count.
func (s *Sampler) Query() *Sampler {
	if s.opt.Policy != PolicyPosition || s.opt.Stride == 1 {
		return s
	}
	o := s.opt
	o.Stride = 1
	return &Sampler{opt: o}
}

// Iter returns a fresh iterator over the sampled k-mers of seq.
func (s *Sampler) Iter(seq []byte) *Iter {
	it := &Iter{s: s, seq: seq, buf: make([]byte, s.opt.K)}
	it.Reset()
	return it
}

// ForEach calls fn for every sampled k-mer and returns the number of
// examined windows skipped for invalid symbols.
func (s *Sampler) ForEach(seq []byte, fn func(pos int, km Kmer)) (invalid int) {
	it := s.Iter(seq)
	for {
		km, ok := it.Next()
		if !ok {
			return it.Invalid()
		}
		fn(it.Pos(), km)
	}
}

// Collect returns all sampled k-mers of seq in emission order.
func (s *Sampler) Collect(seq []byte) []Kmer {
	var out []Kmer
	s.ForEach(seq, func(_ int, km Kmer) { out = append(out, km) })
	return out
}

type cand struct {
	pos  int
	hash uint64
	km   Kmer
}

// Iter walks the sampled k-mers of one sequence. It is not safe for
// concurrent use; Reset restarts it from the beginning.
type Iter struct {
	s   *Sampler
	seq []byte
	buf []byte

	next    int // start of the next window to examine
	checked int // last index verified as A/C/G/T in the current valid stretch
	bad     int // windows starting at or before bad contain an invalid symbol
	invalid int
	pos     int

	// minimizer state
	dq      []cand
	run     int
	lastMin int
	pending []cand
}

// Reset rewinds the iterator.
func (it *Iter) Reset() {
	it.next = 0
	if it.s.opt.Policy == PolicyPosition {
		it.next = int(it.s.opt.Seed % uint64(it.s.opt.Stride))
	}
	it.checked = -1
	it.bad = -1
	it.invalid = 0
	it.pos = -1
	it.dq = it.dq[:0]
	it.run = 0
	it.lastMin = -1
	it.pending = it.pending[:0]
}

// Pos is the start offset of the k-mer most recently returned by Next.
func (it *Iter) Pos() int { return it.pos }

// Invalid is the number of windows examined so far that were skipped
// because they contain a non-ACGT symbol.
func (it *Iter) Invalid() int { return it.invalid }

// Next returns the next sampled k-mer, or false when the sequence is done.
func (it *Iter) Next() (Kmer, bool) {
	switch it.s.opt.Policy {
	case PolicyMinimizer:
		return it.nextMinimizer()
	case PolicyPosition:
		return it.nextStep(it.s.opt.Stride, false)
	default:
		return it.nextStep(1, it.s.opt.Stride > 1)
	}
}

func (it *Iter) nextStep(step int, modulo bool) (Kmer, bool) {
	k := it.s.opt.K
	stride := uint64(it.s.opt.Stride)
	for it.next+k <= len(it.seq) {
		p := it.next
		it.next += step
		km, ok := it.window(p)
		if !ok {
			it.invalid++
			continue
		}
		if modulo && km.Hash(it.s.opt.Seed)%stride != 0 {
			continue
		}
		it.pos = p
		return km, true
	}
	return Kmer{}, false
}

func (it *Iter) nextMinimizer() (Kmer, bool) {
	k := it.s.opt.K
	for {
		if len(it.pending) > 0 {
			c := it.pending[0]
			it.pending = it.pending[1:]
			it.pos = c.pos
			return c.km, true
		}
		if it.next+k > len(it.seq) {
			if it.flushRun() {
				continue
			}
			return Kmer{}, false
		}
		p := it.next
		it.next++
		km, ok := it.window(p)
		if !ok {
			it.invalid++
			it.flushRun()
			continue
		}
		it.push(cand{pos: p, hash: km.Hash(it.s.opt.Seed), km: km})
	}
}

func (it *Iter) push(c cand) {
	w := it.s.opt.Stride
	for len(it.dq) > 0 && it.dq[len(it.dq)-1].hash > c.hash {
		it.dq = it.dq[:len(it.dq)-1]
	}
	it.dq = append(it.dq, c)
	it.run++
	for it.dq[0].pos <= c.pos-w {
		it.dq = it.dq[1:]
	}
	if it.run >= w {
		it.emitMin()
	}
}

func (it *Iter) emitMin() {
	if front := it.dq[0]; front.pos != it.lastMin {
		it.pending = append(it.pending, front)
		it.lastMin = front.pos
	}
}

// flushRun ends the current run of valid windows. A run shorter than the
// minimizer window still contributes its minimum.
func (it *Iter) flushRun() bool {
	if it.run > 0 && it.run < it.s.opt.Stride {
		it.emitMin()
	}
	it.run = 0
	it.dq = it.dq[:0]
	return len(it.pending) > 0
}

// window encodes the window starting at p, or reports it invalid.
func (it *Iter) window(p int) (Kmer, bool) {
	k := it.s.opt.K
	if p <= it.bad {
		return Kmer{}, false
	}
	from := it.checked + 1
	if from < p {
		from = p
	}
	for i := from; i < p+k; i++ {
		if baseCode(it.seq[i]) > 3 {
			it.bad = i
			return Kmer{}, false
		}
		it.checked = i
	}
	return encodeWindow(it.seq[p:p+k], it.buf), true
}
