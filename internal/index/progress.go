package index

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressReporter receives ingestion progress events.
type ProgressReporter interface {
	Start(total int)
	Increment()
	Finish()
}

// IngestProgress renders a progress bar on stderr. It stays silent when
// stderr is not a terminal.
type IngestProgress struct {
	enabled bool
	bar     *progressbar.ProgressBar
}

// NewIngestProgress returns a reporter, or nil when disabled.
func NewIngestProgress(enabled bool) ProgressReporter {
	if !enabled || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return &IngestProgress{enabled: true}
}

func (p *IngestProgress) Start(total int) {
	if !p.enabled || total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *IngestProgress) Increment() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
}

func (p *IngestProgress) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
