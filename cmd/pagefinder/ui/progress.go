package ui

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Spinner shows indeterminate progress for a single step. A nil Spinner is
// a no-op so callers never have to branch on JSON mode.
type Spinner struct {
	spinner *spinner.Spinner
}

// Spinner creates a spinner with the given message, or nil in JSON mode.
func (u *UI) Spinner(message string) *Spinner {
	if u.jsonMode {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return &Spinner{spinner: s}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	if s != nil {
		s.spinner.Start()
	}
}

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() {
	if s != nil {
		s.spinner.Stop()
	}
}

// ProgressBar shows deterministic progress for a single task. A nil
// ProgressBar is a no-op.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// ProgressBar creates a progress bar, or nil in JSON mode.
func (u *UI) ProgressBar(total int64, description string) *ProgressBar {
	if u.jsonMode {
		return nil
	}
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Add advances the bar by n.
func (p *ProgressBar) Add(n int) {
	if p != nil {
		_ = p.bar.Add(n)
	}
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	if p != nil {
		_ = p.bar.Finish()
	}
}

// RunView renders one progress bar per in-flight document during an engine
// run. Bars appear when a document is dispatched, advance as batches become
// durable, and complete or abort with the document. A nil RunView is a
// no-op. Safe for concurrent use.
type RunView struct {
	progress *mpb.Progress
	mu       sync.Mutex
	bars     map[string]*mpb.Bar
	totals   map[string]int
}

// RunView creates a multi-bar run view over the given page totals, or nil
// in JSON mode and when stdout is not a terminal.
func (u *UI) RunView(totals map[string]int) *RunView {
	if u.jsonMode || !IsTerminal() {
		return nil
	}
	return &RunView{
		progress: mpb.New(mpb.WithWidth(64)),
		bars:     make(map[string]*mpb.Bar),
		totals:   totals,
	}
}

// StartDocument adds a bar for a dispatched document.
func (v *RunView) StartDocument(identity string) {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.bars[identity]; ok {
		return
	}
	total := int64(v.totals[identity])
	v.bars[identity] = v.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(identity, decor.WC{W: len(identity) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}), " done"),
		),
	)
}

// Progress advances a document's bar by the given page count.
func (v *RunView) Progress(identity string, pages int) {
	if v == nil {
		return
	}
	v.mu.Lock()
	bar := v.bars[identity]
	v.mu.Unlock()
	if bar != nil {
		bar.IncrBy(pages)
	}
}

// FinishDocument completes a document's bar, or aborts it on failure. The
// bar fills on success even when earlier runs already committed part of
// the document.
func (v *RunView) FinishDocument(identity string, ok bool) {
	if v == nil {
		return
	}
	v.mu.Lock()
	bar := v.bars[identity]
	v.mu.Unlock()
	if bar == nil {
		return
	}
	if ok {
		bar.SetCurrent(int64(v.totals[identity]))
		return
	}
	bar.Abort(false)
}

// Wait blocks until all bars have rendered their final state.
func (v *RunView) Wait() {
	if v == nil {
		return
	}
	v.progress.Wait()
}
