// internal/writers/tsv.go
package writers

import (
	"bufio"
	"strconv"

	"ktax/core/classify"
)

// TSVHeader names the columns of the tsv format.
const TSVHeader = "status\tread_id\ttaxon_id\tvotes\tsampled\thits\tpasses\treason"

type tsvSink struct {
	bw   *bufio.Writer
	line []byte
}

func init() {
	Register("tsv", func(dst Destination) (Sink, error) {
		s := &tsvSink{bw: bufio.NewWriterSize(dst.W, 64<<10)}
		if dst.Header {
			if _, err := s.bw.WriteString(TSVHeader + "\n"); err != nil {
				return nil, err
			}
		}
		return s, nil
	})
}

// Write emits one line; reason is empty unless the record was skipped.
func (s *tsvSink) Write(r classify.Result) error {
	b := append(s.line[:0], byte(r.Status), '\t')
	b = append(b, r.ID...)
	b = append(b, '\t')
	b = strconv.AppendUint(b, uint64(r.Taxon), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.Votes), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.Sampled), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.Hits), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(r.Passes), 10)
	b = append(b, '\t')
	b = append(b, r.Reason...)
	b = append(b, '\n')
	s.line = b
	_, err := s.bw.Write(b)
	return err
}

func (s *tsvSink) Close() error { return s.bw.Flush() }
