package render

import (
	"fmt"
	"strings"

	"github.com/czhmisaka/Html2Img/internal/model"
)

// Format is the encoded image format
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ContentType returns the MIME type for f
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Ext returns the conventional file extension for f, without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// ParseFormat accepts png, jpeg and jpg in any case; empty means png.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", model.Invalid("type", fmt.Sprintf("unsupported format %q (supported: png, jpeg)", s))
	}
}

// Defaults applied by Normalize.
const (
	DefaultWidth           = 1200
	DefaultAutoHeightWidth = 1920
	DefaultHeight          = 800
	DefaultScale           = 1.0
	DefaultQuality         = 80
)

// Options are the caller-visible rendering options. Zero values mean
// "use the default"; JSON names are the HTTP API field names.
type Options struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
	Format   Format  `json:"type,omitempty"`
	Quality  int     `json:"quality,omitempty"`
	FullPage *bool   `json:"fullPage,omitempty"`
}

// AutoHeight reports whether the options select the two-pass auto-height
// capture: full page requested and no caller-fixed height.
func (o Options) AutoHeight() bool {
	return o.IsFullPage() && o.Height == 0
}

// IsFullPage reports the effective fullPage flag (default true).
func (o Options) IsFullPage() bool {
	return o.FullPage == nil || *o.FullPage
}

// Normalize validates o and fills every default, so that two requests with
// the same meaning compare (and hash) equal. The width is resolved once here
// and is used unchanged by both viewport passes.
func (o Options) Normalize() (Options, error) {
	format, err := ParseFormat(string(o.Format))
	if err != nil {
		return Options{}, err
	}

	if o.Width < 0 {
		return Options{}, model.Invalid("width", "must not be negative")
	}
	if o.Height < 0 {
		return Options{}, model.Invalid("height", "must not be negative")
	}
	if o.Scale < 0 {
		return Options{}, model.Invalid("scale", "must not be negative")
	}
	if o.Quality < 0 || o.Quality > 100 {
		return Options{}, model.Invalid("quality", "must be between 0 and 100")
	}

	fullPage := o.IsFullPage()
	n := Options{
		Width:    o.Width,
		Height:   o.Height,
		Scale:    o.Scale,
		Format:   format,
		FullPage: &fullPage,
	}

	if n.Width == 0 {
		if n.AutoHeight() {
			n.Width = DefaultAutoHeightWidth
		} else {
			n.Width = DefaultWidth
		}
	}
	if n.Height == 0 && !n.AutoHeight() {
		n.Height = DefaultHeight
	}
	if n.Scale == 0 {
		n.Scale = DefaultScale
	}

	if format == FormatJPEG {
		n.Quality = o.Quality
		if n.Quality == 0 {
			n.Quality = DefaultQuality
		}
	}

	return n, nil
}

// Request is one render call
type Request struct {
	Markup  string
	Options Options
}

// Validate rejects requests that can never render.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Markup) == "" {
		return model.Invalid("html", "must not be empty")
	}
	return nil
}

// Result is an encoded image
type Result struct {
	Data        []byte
	ContentType string
}

// Bool returns a pointer to b, for Options.FullPage literals.
func Bool(b bool) *bool {
	return &b
}
