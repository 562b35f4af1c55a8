// Package seqio reads reference genomes, query reads and genome/taxon
// mapping files. Inputs may be FASTA or FASTQ, optionally compressed.
// Reference genomes are parsed with shenwei356/bio fastx; reads are framed
// record by record over shenwei356/xopen so a malformed read is skipped
// rather than ending the run.
package seqio

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"

	"ktax/core/classify"
	"ktax/core/index"
	"ktax/internal/dispatch"
)

// Skip reasons for malformed read records.
const (
	SkipEmpty        = "empty sequence"
	SkipMateMismatch = "mate ids differ"
)

// ForEachGenome calls fn for every record of every file, in file order.
// Each record is one genome, identified by its sequence id.
func ForEachGenome(files []string, fn func(file string, g index.Genome) error) error {
	for _, file := range files {
		r, err := fastx.NewReader(nil, file, "")
		if err != nil {
			return errors.Wrapf(err, "open reference %s", file)
		}
		for {
			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				return errors.Wrapf(err, "read reference %s", file)
			}
			g := index.Genome{
				ID:  string(rec.ID),
				Seq: append([]byte(nil), rec.Seq.Seq...),
			}
			if err := fn(file, g); err != nil {
				r.Close()
				return err
			}
		}
		r.Close()
	}
	return nil
}

// ReadSource yields reads for the dispatcher. Single-end mode reads each
// file in turn; paired mode walks two files in lockstep. Malformed records
// come back as skipped records; only I/O failures end the stream early.
type ReadSource struct {
	files  []string
	paired bool

	cur  int
	r1   *framer
	r2   *framer
	read uint64
}

// OpenReads prepares a source. Paired mode needs exactly two files.
func OpenReads(files []string, paired bool) (*ReadSource, error) {
	if len(files) == 0 {
		return nil, errors.New("no read files")
	}
	if paired && len(files) != 2 {
		return nil, errors.Errorf("paired mode needs 2 read files, got %d", len(files))
	}
	s := &ReadSource{files: files, paired: paired}
	if paired {
		var err error
		if s.r1, err = openFramer(files[0]); err != nil {
			return nil, err
		}
		if s.r2, err = openFramer(files[1]); err != nil {
			s.r1.Close()
			return nil, err
		}
	}
	return s, nil
}

// Count is the number of records returned so far.
func (s *ReadSource) Count() uint64 { return s.read }

func (s *ReadSource) Next() (dispatch.Record, error) {
	var (
		rec dispatch.Record
		err error
	)
	if s.paired {
		rec, err = s.nextPair()
	} else {
		rec, err = s.nextSingle()
	}
	if err == nil {
		s.read++
	}
	return rec, err
}

func (s *ReadSource) nextSingle() (dispatch.Record, error) {
	for s.cur < len(s.files) {
		if s.r1 == nil {
			f, err := openFramer(s.files[s.cur])
			if err != nil {
				return dispatch.Record{}, err
			}
			s.r1 = f
		}
		raw, err := s.r1.next()
		if err == io.EOF {
			s.r1.Close()
			s.r1 = nil
			s.cur++
			continue
		}
		if err != nil {
			return dispatch.Record{}, errors.Wrapf(err, "record %d", s.read+1)
		}
		out := dispatch.Record{
			Read: classify.Read{ID: raw.id, Seq: raw.seq},
			Skip: raw.bad,
		}
		if out.Skip == "" && len(out.Read.Seq) == 0 {
			out.Skip = SkipEmpty
		}
		return out, nil
	}
	return dispatch.Record{}, io.EOF
}

func (s *ReadSource) nextPair() (dispatch.Record, error) {
	a, errA := s.r1.next()
	b, errB := s.r2.next()
	switch {
	case errA == io.EOF && errB == io.EOF:
		return dispatch.Record{}, io.EOF
	case errA != nil && errA != io.EOF:
		return dispatch.Record{}, errors.Wrapf(errA, "record %d", s.read+1)
	case errB != nil && errB != io.EOF:
		return dispatch.Record{}, errors.Wrapf(errB, "record %d", s.read+1)
	case errA == io.EOF || errB == io.EOF:
		return dispatch.Record{}, errors.Errorf("paired files %s and %s have different record counts", s.files[0], s.files[1])
	}
	id1, id2 := MateID(a.id), MateID(b.id)
	if id1 == "" {
		id1 = id2
	}
	out := dispatch.Record{Read: classify.Read{ID: id1, Seq: a.seq, Mate: b.seq}}
	switch {
	case a.bad != "":
		out.Skip = a.bad
	case b.bad != "":
		out.Skip = b.bad
	case id1 != id2:
		out.Skip = SkipMateMismatch
	case len(out.Read.Seq) == 0 || len(out.Read.Mate) == 0:
		out.Skip = SkipEmpty
	}
	return out, nil
}

// MateID strips a trailing /1 or /2.
func MateID(id string) string {
	if strings.HasSuffix(id, "/1") || strings.HasSuffix(id, "/2") {
		return id[:len(id)-2]
	}
	return id
}

// Close releases any open readers.
func (s *ReadSource) Close() {
	if s.r1 != nil {
		s.r1.Close()
		s.r1 = nil
	}
	if s.r2 != nil {
		s.r2.Close()
		s.r2 = nil
	}
}
