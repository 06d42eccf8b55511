package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/pipeline"
	"github.com/aliskhannn/screenshot-worker/internal/processor"
)

// Page is the part of a browser tab the capture stage reads from.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	MHTML(ctx context.Context) (string, error)
	Console() ([]model.ConsoleMessage, int)
}

// Capture holds everything taken from a prepared page.
type Capture struct {
	Full      processor.Image
	Thumbnail processor.Image
	HTML      string
	MHTML     string // empty unless the job asked for it
	Console   []byte // JSON array of console messages
	Data      model.Data
}

// Capturer takes the screenshot and page sources of a prepared page.
type Capturer struct {
	proc *processor.Processor
}

// New creates a new Capturer.
func New(proc *processor.Processor) *Capturer {
	return &Capturer{proc: proc}
}

// Capture screenshots the page at its prepared height, reads its HTML and,
// when requested, an MHTML archive, then drains the console log. A crop
// measured by the pipeline is applied to the image and replaces the
// reported page area.
func (c *Capturer) Capture(ctx context.Context, page Page, job model.Job, out pipeline.Outcome) (*Capture, error) {
	log := zlog.Logger.With().Str("job_id", job.ID).Str("url", job.URL).Int("breakpoint", job.Breakpoint).Logger()

	raw, err := page.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Int("bytes", len(raw)).Msg("screenshot done")

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	var mhtml string
	if job.MHTML {
		if mhtml, err = page.MHTML(ctx); err != nil {
			return nil, err
		}
	}

	messages, dropped := page.Console()
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("console log truncated")
	}

	console, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode console log: %w", err)
	}

	res, err := c.proc.Process(raw, out.Crop, out.Scale)
	if err != nil {
		return nil, err
	}

	data := model.Data{
		PageArea:    out.PageArea,
		AuthError:   out.AuthError,
		StageErrors: out.StageErrors,
	}
	if !out.Crop.Empty() {
		data.PageArea = int(math.Round(out.Crop.Width)) * int(math.Round(out.Crop.Height))
	}

	log.Info().
		Str("format", res.Full.Ext).
		Int("width", res.Full.Width).
		Int("height", res.Full.Height).
		Int("page_area", data.PageArea).
		Msg("screenshot processed")

	return &Capture{
		Full:      res.Full,
		Thumbnail: res.Thumbnail,
		HTML:      html,
		MHTML:     mhtml,
		Console:   console,
		Data:      data,
	}, nil
}
