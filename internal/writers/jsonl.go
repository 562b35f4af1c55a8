// internal/writers/jsonl.go
package writers

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"ktax/core/classify"
	"ktax/pkg/api"
)

// Reuse a 64 KiB buffered writer across JSONL sinks to avoid per-sink mallocs.
var bwPool = sync.Pool{
	New: func() any {
		return bufio.NewWriterSize(io.Discard, 64<<10)
	},
}

type jsonlSink struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func init() {
	Register("jsonl", func(dst Destination) (Sink, error) {
		bw := bwPool.Get().(*bufio.Writer)
		bw.Reset(dst.W)
		return &jsonlSink{bw: bw, enc: json.NewEncoder(bw)}, nil
	})
}

// ToAPIResult converts a result to its stable wire form.
func ToAPIResult(r classify.Result) api.ResultV1 {
	return api.ResultV1{
		ReadID:  r.ID,
		Status:  r.Status.String(),
		TaxonID: r.Taxon,
		Votes:   r.Votes,
		Sampled: r.Sampled,
		Hits:    r.Hits,
		Passes:  r.Passes,
		Invalid: r.Invalid,
		Reason:  r.Reason,
	}
}

func (s *jsonlSink) Write(r classify.Result) error { return s.enc.Encode(ToAPIResult(r)) }

func (s *jsonlSink) Close() error {
	err := s.bw.Flush()
	// drop the reference to the destination before pooling
	s.bw.Reset(io.Discard)
	bwPool.Put(s.bw)
	return err
}
