package cmdutil

import (
	"io"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress is a single counter bar. A nil *Progress is valid and does
// nothing, so callers need not check whether --progress was given.
type Progress struct {
	pbs   *mpb.Progress
	bar   *mpb.Bar
	start time.Time
}

// NewProgress returns nil unless enabled. total <= 0 means the total is not
// known up front; the bar then shows a running count and rate.
func NewProgress(w io.Writer, enabled bool, name string, total int64) *Progress {
	if !enabled {
		return nil
	}
	pbs := mpb.New(mpb.WithWidth(40), mpb.WithOutput(w))
	label := decor.Name(name+": ", decor.WC{W: len(name) + 2, C: decor.DindentRight})
	var bar *mpb.Bar
	if total > 0 {
		bar = pbs.AddBar(total,
			mpb.PrependDecorators(
				label,
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
	} else {
		bar = pbs.New(0, mpb.NopStyle(),
			mpb.PrependDecorators(
				label,
				decor.CurrentNoUnit("%d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.AverageSpeed(0, " %.0f/s"),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
	}
	return &Progress{pbs: pbs, bar: bar, start: time.Now()}
}

// Add advances the bar by n.
func (p *Progress) Add(n int) {
	if p == nil {
		return
	}
	p.bar.EwmaIncrBy(n, time.Since(p.start))
	p.start = time.Now()
}

// Done completes the bar at its current count and waits for the final render.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.bar.SetTotal(-1, true)
	p.pbs.Wait()
}
