// internal/dispatch/summary.go
package dispatch

import (
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/zeebo/xxh3"

	"ktax/core/classify"
)

// Summary accumulates what a run emitted. Records are numbered from 0 in
// input order.
type Summary struct {
	Total          uint64
	Classified     uint64
	Unclassified   uint64
	Skipped        uint64
	Hits           uint64
	Sampled        uint64
	InvalidWindows uint64
	SkipReasons    map[string]uint64
	SkippedAt      *roaring64.Bitmap

	digest *xxh3.Hasher
	line   []byte
}

func NewSummary() *Summary {
	return &Summary{
		SkipReasons: make(map[string]uint64),
		SkippedAt:   roaring64.New(),
		digest:      xxh3.New(),
	}
}

// Add records the next emitted result.
func (s *Summary) Add(r classify.Result) {
	pos := s.Total
	s.Total++
	s.Hits += uint64(r.Hits)
	s.Sampled += uint64(r.Sampled)
	s.InvalidWindows += uint64(r.Invalid)
	switch r.Status {
	case classify.StatusClassified:
		s.Classified++
	case classify.StatusSkipped:
		s.Skipped++
		s.SkipReasons[r.Reason]++
		s.SkippedAt.Add(pos)
	default:
		s.Unclassified++
	}

	b := append(s.line[:0], r.ID...)
	b = append(b, '\t', byte(r.Status), '\t')
	b = strconv.AppendUint(b, uint64(r.Taxon), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.Votes), 10)
	b = append(b, '\n')
	_, _ = s.digest.Write(b)
	s.line = b
}

// Digest is an xxh3 hash over (id, status, taxon, votes) of every emitted
// record in order; equal digests mean identical calls in identical order.
func (s *Summary) Digest() uint64 { return s.digest.Sum64() }

// Reasons returns skip reasons sorted by descending count, then by name.
func (s *Summary) Reasons() []string {
	out := make([]string, 0, len(s.SkipReasons))
	for r := range s.SkipReasons {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := s.SkipReasons[out[i]], s.SkipReasons[out[j]]
		if ci != cj {
			return ci > cj
		}
		return out[i] < out[j]
	})
	return out
}
