package seqio

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// Skip reasons for read records that cannot be framed.
const (
	SkipMalformed  = "malformed record"
	SkipTruncated  = "truncated record"
	SkipQualLength = "sequence and quality lengths differ"
)

// rawRecord is one framed read. A non-empty bad names why it is unusable;
// id and seq are then best effort.
type rawRecord struct {
	id  string
	seq []byte
	bad string
}

// framer splits a FASTA or FASTQ stream into records line by line. A
// malformed record is reported on its own and framing resumes at the next
// header line. Read errors of the underlying stream are returned as errors.
type framer struct {
	file string
	r    *xopen.Reader

	delim byte // '>' or '@' once the format is known
	held  []byte
	hold  bool
	done  bool
}

func openFramer(file string) (*framer, error) {
	r, err := xopen.Ropen(file)
	if err == xopen.ErrNoContent {
		return &framer{file: file, done: true}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open reads %s", file)
	}
	return &framer{file: file, r: r}, nil
}

func (f *framer) Close() {
	if f.r != nil {
		_ = f.r.Close()
		f.r = nil
	}
}

// line returns the next line without its line ending.
func (f *framer) line() ([]byte, error) {
	if f.hold {
		f.hold = false
		return f.held, nil
	}
	if f.done {
		return nil, io.EOF
	}
	b, err := f.r.ReadBytes('\n')
	if err == io.EOF {
		f.done = true
		if len(b) == 0 {
			return nil, io.EOF
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.file)
	}
	b = bytes.TrimRight(b, "\r\n")
	return b, nil
}

func (f *framer) unread(b []byte) {
	f.held, f.hold = b, true
}

// header skips blank lines and returns the next non-blank one.
func (f *framer) header() ([]byte, error) {
	for {
		b, err := f.line()
		if err != nil {
			return nil, err
		}
		if len(b) > 0 {
			return b, nil
		}
	}
}

// next frames one record. It returns io.EOF at the end of the stream.
func (f *framer) next() (rawRecord, error) {
	h, err := f.header()
	if err != nil {
		return rawRecord{}, err
	}
	if f.delim == 0 {
		if h[0] != '>' && h[0] != '@' {
			return rawRecord{}, errors.Errorf("%s is not FASTA or FASTQ", f.file)
		}
		f.delim = h[0]
	}
	if h[0] != f.delim {
		return f.resync()
	}
	rec := rawRecord{id: headID(h[1:])}
	if f.delim == '>' {
		err = f.fasta(&rec)
	} else {
		err = f.fastq(&rec)
	}
	return rec, err
}

// resync drops lines up to the next header and reports them as one
// malformed record.
func (f *framer) resync() (rawRecord, error) {
	for {
		b, err := f.line()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rawRecord{}, err
		}
		if len(b) > 0 && b[0] == f.delim {
			f.unread(b)
			break
		}
	}
	return rawRecord{bad: SkipMalformed}, nil
}

func (f *framer) fasta(rec *rawRecord) error {
	rec.seq = []byte{}
	for {
		b, err := f.line()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(b) > 0 && b[0] == '>' {
			f.unread(b)
			return nil
		}
		rec.seq = append(rec.seq, b...)
	}
}

// fastq reads sequence lines up to the '+' separator, then quality lines
// until the quality is as long as the sequence. A quality line starting
// with '@' is accepted only when it completes the quality exactly; anything
// else is the next header.
func (f *framer) fastq(rec *rawRecord) error {
	rec.seq = []byte{}
	for {
		b, err := f.line()
		if err == io.EOF {
			rec.bad = SkipTruncated
			return nil
		}
		if err != nil {
			return err
		}
		if len(b) > 0 && b[0] == '+' {
			break
		}
		if len(b) > 0 && b[0] == '@' {
			f.unread(b)
			rec.bad = SkipTruncated
			return nil
		}
		rec.seq = append(rec.seq, b...)
	}
	qual := 0
	for qual < len(rec.seq) {
		b, err := f.line()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(b) > 0 && b[0] == '@' && qual+len(b) != len(rec.seq) {
			f.unread(b)
			break
		}
		qual += len(b)
	}
	if qual != len(rec.seq) {
		rec.bad = SkipQualLength
	}
	return nil
}

// headID is the first whitespace-delimited word of a header.
func headID(h []byte) string {
	if fs := bytes.Fields(h); len(fs) > 0 {
		return string(fs[0])
	}
	return ""
}
