package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

const (
	defaultThumbnailWidth = 220
	defaultCompressLimit  = 16000
	defaultErrorHeight    = 600
	defaultErrorWidth     = 1024
	errorLineLength       = 90
	errorFontSize         = 16
	jpegQuality           = 80
)

// Image is an encoded artifact ready to be stored.
type Image struct {
	Data        []byte
	Ext         string // file extension without the dot
	ContentType string
	Width       int
	Height      int
}

// Options tunes the post-processing of screenshots.
type Options struct {
	ThumbnailWidth int // width of the thumbnail in pixels
	CompressLimit  int // screenshots with both sides below it are encoded as JPEG
	ErrorHeight    int // height of the rendered error artifact
}

// Processor is responsible for turning raw screenshots into stored
// artifacts: cropping, format selection, thumbnail generation and
// rendering of error images.
type Processor struct {
	opts Options
	face font.Face
}

// New creates a new Processor. Zero options fall back to the defaults.
func New(opts Options) (*Processor, error) {
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = defaultThumbnailWidth
	}
	if opts.CompressLimit <= 0 {
		opts.CompressLimit = defaultCompressLimit
	}
	if opts.ErrorHeight <= 0 {
		opts.ErrorHeight = defaultErrorHeight
	}

	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return &Processor{
		opts: opts,
		face: truetype.NewFace(f, &truetype.Options{Size: errorFontSize}),
	}, nil
}

// Result is a processed screenshot and its thumbnail.
type Result struct {
	Full      Image
	Thumbnail Image
	PageArea  int // width × height of the full image in pixels
}

// Process decodes a raw PNG screenshot, crops it to rect when rect is not
// empty, and encodes the full image and its thumbnail. scale is the device
// scale factor the screenshot was taken with.
func (p *Processor) Process(raw []byte, rect model.Rect, scale float64) (Result, error) {
	// Decode the captured screenshot.
	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	img := src
	if !rect.Empty() {
		img, err = crop(src, rect, scale)
		if err != nil {
			return Result{}, err
		}
	}

	full, err := p.encode(img)
	if err != nil {
		return Result{}, err
	}

	thumb, err := p.thumbnail(img)
	if err != nil {
		return Result{}, err
	}

	b := img.Bounds()

	return Result{
		Full:      full,
		Thumbnail: thumb,
		PageArea:  b.Dx() * b.Dy(),
	}, nil
}

// crop cuts the document-relative rectangle out of the screenshot.
func crop(src image.Image, rect model.Rect, scale float64) (image.Image, error) {
	if scale <= 0 {
		scale = 1
	}

	r := image.Rect(
		int(math.Floor(rect.Left*scale)),
		int(math.Floor(rect.Top*scale)),
		int(math.Ceil((rect.Left+rect.Width)*scale)),
		int(math.Ceil((rect.Top+rect.Height)*scale)),
	).Intersect(src.Bounds())

	if r.Empty() {
		return nil, fmt.Errorf("crop rectangle %+v is outside of the screenshot", rect)
	}

	return imaging.Crop(src, r), nil
}

// encode picks JPEG for images that fit the compressed format and PNG
// for very tall or wide ones.
func (p *Processor) encode(img image.Image) (Image, error) {
	b := img.Bounds()
	format, ext, contentType := imaging.PNG, "png", "image/png"
	var opts []imaging.EncodeOption

	if b.Dx() < p.opts.CompressLimit && b.Dy() < p.opts.CompressLimit {
		format, ext, contentType = imaging.JPEG, "jpg", "image/jpeg"
		opts = []imaging.EncodeOption{imaging.JPEGQuality(jpegQuality)}
	}

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, img, format, opts...); err != nil {
		return Image{}, fmt.Errorf("failed to encode screenshot: %w", err)
	}

	return Image{
		Data:        buf.Bytes(),
		Ext:         ext,
		ContentType: contentType,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// thumbnail generates a fixed-width preview keeping the aspect ratio.
func (p *Processor) thumbnail(img image.Image) (Image, error) {
	thumb := imaging.Resize(img, p.opts.ThumbnailWidth, 0, imaging.Lanczos)

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return Image{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	b := thumb.Bounds()

	return Image{
		Data:        buf.Bytes(),
		Ext:         "jpg",
		ContentType: "image/jpeg",
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// ErrorImage renders message as black text on a white canvas of the given
// width, capped at model.MaxBreakpoint, and returns it together with its thumbnail. It is the displayable
// artifact of a job that failed for good.
func (p *Processor) ErrorImage(width int, message string) (Result, error) {
	if width <= 0 {
		width = defaultErrorWidth
	}
	width = min(width, model.MaxBreakpoint)

	dc := gg.NewContext(width, p.opts.ErrorHeight)
	dc.SetColor(color.White)
	dc.Clear()

	// Draw the message in the top-left corner.
	dc.SetColor(color.Black)
	dc.SetFontFace(p.face)

	margin := 10.0
	text := Wrap(message, errorLineLength)
	dc.DrawStringWrapped(text, margin, margin, 0, 0, float64(width)-2*margin, 1.5, gg.AlignLeft)

	img := dc.Image()

	full, err := p.encode(img)
	if err != nil {
		return Result{}, err
	}

	thumb, err := p.thumbnail(img)
	if err != nil {
		return Result{}, err
	}

	return Result{Full: full, Thumbnail: thumb, PageArea: width * p.opts.ErrorHeight}, nil
}

// Wrap breaks text into lines of at most limit characters on word
// boundaries. Words longer than limit are split.
func Wrap(text string, limit int) string {
	if limit <= 0 {
		return text
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var line []rune
		for _, word := range strings.Fields(paragraph) {
			w := []rune(word)
			for len(w) > limit {
				if len(line) > 0 {
					lines = append(lines, string(line))
					line = nil
				}
				lines = append(lines, string(w[:limit]))
				w = w[limit:]
			}

			switch {
			case len(line) == 0:
				line = w
			case len(line)+1+len(w) <= limit:
				line = append(append(line, ' '), w...)
			default:
				lines = append(lines, string(line))
				line = w
			}
		}
		lines = append(lines, string(line))
	}

	return strings.Join(lines, "\n")
}
