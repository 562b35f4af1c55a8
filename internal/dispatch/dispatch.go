// internal/dispatch/dispatch.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"ktax/core/classify"
)

// Classifier is the minimal capability the dispatcher needs.
// Any engine (including fakes in tests) can satisfy this.
type Classifier interface {
	Classify(r classify.Read) classify.Result
}

// Record is one item from a Source. A non-empty Skip marks a malformed
// record; it still occupies an output slot and is reported as skipped.
type Record struct {
	Read classify.Read
	Skip string
}

// Source yields records until it returns io.EOF.
type Source interface {
	Next() (Record, error)
}

// Config controls the dispatcher.
type Config struct {
	Threads   int         // number of worker goroutines (>=1)
	BatchSize int         // records per ordered batch; 0 means 4096
	OnBatch   func(n int) // called after each batch is emitted, e.g. for progress
}

const defaultBatch = 4096

type job struct {
	recs  []Record
	slots []classify.Result
	i     int
	wg    *sync.WaitGroup
}

// safeClassify turns a panic inside the classifier into a skipped result.
func safeClassify(clf Classifier, r classify.Read) (res classify.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = classify.Skipped(r.ID, fmt.Sprintf("classifier panic: %v", p))
		}
	}()
	return clf.Classify(r)
}

func work(clf Classifier, j job) {
	defer j.wg.Done()
	rec := j.recs[j.i]
	if rec.Skip != "" {
		j.slots[j.i] = classify.Skipped(rec.Read.ID, rec.Skip)
		return
	}
	j.slots[j.i] = safeClassify(clf, rec.Read)
}

type pool struct {
	jobs chan job
	wg   sync.WaitGroup
}

func startPool(threads int, clf Classifier) *pool {
	if threads < 1 {
		threads = 1
	}
	p := &pool{jobs: make(chan job, threads*2)}
	p.wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				work(clf, j)
			}
		}()
	}
	return p
}

func (p *pool) stop() {
	close(p.jobs)
	p.wg.Wait()
}

// classifyBatch fills one slot per record. On cancellation it still waits
// for jobs already queued so no worker touches slots after return.
func (p *pool) classifyBatch(ctx context.Context, recs []Record) ([]classify.Result, error) {
	slots := make([]classify.Result, len(recs))
	var bwg sync.WaitGroup
	var err error
feed:
	for i := range recs {
		bwg.Add(1)
		select {
		case <-ctx.Done():
			bwg.Done()
			err = ctx.Err()
			break feed
		case p.jobs <- job{recs: recs, slots: slots, i: i, wg: &bwg}:
		}
	}
	bwg.Wait()
	return slots, err
}

// ClassifyAll classifies reads with the given number of workers and returns
// one result per read in input order.
func ClassifyAll(ctx context.Context, threads int, reads []classify.Read, clf Classifier) ([]classify.Result, error) {
	recs := make([]Record, len(reads))
	for i, r := range reads {
		recs[i] = Record{Read: r}
	}
	p := startPool(threads, clf)
	defer p.stop()
	return p.classifyBatch(ctx, recs)
}

// Run streams src through clf in ordered batches, calling emit once per
// record in input order. It stops at the first emit or source error, or
// when ctx is cancelled, and returns the summary of what was emitted. On a
// source error the records already read are emitted first.
func Run(ctx context.Context, cfg Config, src Source, clf Classifier, emit func(classify.Result) error) (*Summary, error) {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatch
	}
	p := startPool(cfg.Threads, clf)
	defer p.stop()

	sum := NewSummary()
	batch := make([]Record, 0, cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		slots, err := p.classifyBatch(ctx, batch)
		if err != nil {
			return err
		}
		for _, r := range slots {
			if err := emit(r); err != nil {
				return err
			}
			sum.Add(r)
		}
		if cfg.OnBatch != nil {
			cfg.OnBatch(len(slots))
		}
		batch = make([]Record, 0, cfg.BatchSize)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// records read before the failure are still emitted
			if ferr := flush(); ferr != nil {
				return sum, ferr
			}
			return sum, err
		}
		batch = append(batch, rec)
		if len(batch) == cfg.BatchSize {
			if err := flush(); err != nil {
				return sum, err
			}
		}
	}
	return sum, flush()
}

// SliceSource serves records from memory.
type SliceSource struct {
	recs []Record
	i    int
}

func NewSliceSource(reads []classify.Read) *SliceSource {
	s := &SliceSource{recs: make([]Record, len(reads))}
	for i, r := range reads {
		s.recs[i] = Record{Read: r}
	}
	return s
}

func (s *SliceSource) Next() (Record, error) {
	if s.i >= len(s.recs) {
		return Record{}, io.EOF
	}
	s.i++
	return s.recs[s.i-1], nil
}
