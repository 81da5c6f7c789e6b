package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"
)

// A terminal cell is roughly twice as tall as it is wide, so one native column
// covers half the points of one native row.
const (
	pointsPerColumn = 6.0
	pointsPerRow    = 12.0

	// DefaultPixelRatio is the backing grid density used when the caller does not
	// set one.
	DefaultPixelRatio = 2
)

var errNoTarget = errors.New("render target has no area")

// shade ramp from light to dark, used to downsample image pixels.
const shadeRamp = " .:-=+*#%@"

// Viewport is the container the page is fitted into, in terminal cells.
type Viewport struct {
	Width      int
	Height     int
	PixelRatio int
}

func (v Viewport) ratio() int {
	if v.PixelRatio < 1 {
		return DefaultPixelRatio
	}
	return v.PixelRatio
}

// Size is a native page size in PDF points.
type Size struct {
	Width  float64
	Height float64
}

func (s Size) columns() float64 { return s.Width / pointsPerColumn }
func (s Size) rows() float64    { return s.Height / pointsPerRow }

// Glyph is one run of text positioned in native points from the top-left corner.
type Glyph struct {
	X, Y  float64
	Width float64
	Text  string
}

// pageModel is everything needed to paint one page.
type pageModel struct {
	size   Size
	glyphs []Glyph
	img    image.Image
}

// Span is a piece of selectable text in surface (CSS cell) coordinates.
type Span struct {
	X, Y int
	Text string
}

// TextLayer overlays a Surface with the same width, height and coordinate space.
type TextLayer struct {
	Width  int
	Height int
	Spans  []Span
}

// PlainText returns the layer's text in reading order, one line per row.
func (t TextLayer) PlainText() string {
	spans := append([]Span(nil), t.Spans...)
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Y != spans[j].Y {
			return spans[i].Y < spans[j].Y
		}
		return spans[i].X < spans[j].X
	})
	var b strings.Builder
	row := -1
	for _, s := range spans {
		switch {
		case row == -1:
		case s.Y != row:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		row = s.Y
		b.WriteString(strings.TrimSpace(s.Text))
	}
	return b.String()
}

// Surface is a painted page. Rows are at display (CSS) size; the backing grid
// they were downsampled from is BackingWidth x BackingHeight.
type Surface struct {
	Page          int
	Zoom          float64
	Scale         float64
	Width         int
	Height        int
	BackingWidth  int
	BackingHeight int
	PixelRatio    int
	Rows          []string
	Text          TextLayer
}

// View joins the rows for display.
func (s *Surface) View() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.Rows, "\n")
}

// FitScale is the display scale for a page: fit to the container, then apply zoom.
func FitScale(native Size, vp Viewport, zoom float64) float64 {
	cols, rows := native.columns(), native.rows()
	if cols <= 0 || rows <= 0 {
		return 0
	}
	return math.Min(float64(vp.Width)/cols, float64(vp.Height)/rows) * zoom
}

func rasterize(model pageModel, number int, zoom float64, vp Viewport) (*Surface, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return nil, errNoTarget
	}
	if model.size.Width <= 0 || model.size.Height <= 0 {
		return nil, fmt.Errorf("page %d has no size", number)
	}
	ratio := vp.ratio()
	scale := FitScale(model.size, vp, zoom)
	cssW := max(1, int(math.Round(model.size.columns()*scale)))
	cssH := max(1, int(math.Round(model.size.rows()*scale)))
	backW, backH := cssW*ratio, cssH*ratio
	// backing cells per native point along each axis
	sx := scale * float64(ratio) / pointsPerColumn
	sy := scale * float64(ratio) / pointsPerRow

	backing := make([][]rune, backH)
	for y := range backing {
		backing[y] = make([]rune, backW)
		for x := range backing[y] {
			backing[y][x] = ' '
		}
	}

	layer := TextLayer{Width: cssW, Height: cssH}
	for _, g := range model.glyphs {
		runes := []rune(g.Text)
		if len(runes) == 0 {
			continue
		}
		bx := int(g.X * sx)
		by := int(g.Y * sy)
		if by < 0 || by >= backH || bx >= backW {
			continue
		}
		advance := float64(ratio) * scale
		if g.Width > 0 {
			advance = g.Width / float64(len(runes)) * sx
		}
		for i, r := range runes {
			x := bx + int(float64(i)*advance)
			if x < 0 || x >= backW {
				continue
			}
			backing[by][x] = r
		}
		layer.Spans = append(layer.Spans, Span{X: max(0, bx/ratio), Y: by / ratio, Text: g.Text})
	}

	var lum [][]float64
	if model.img != nil {
		lum = sampleLuminance(model.img, backW, backH)
	}

	rows := make([]string, cssH)
	for cy := 0; cy < cssH; cy++ {
		var line strings.Builder
		for cx := 0; cx < cssW; cx++ {
			line.WriteRune(downsample(backing, lum, cx*ratio, cy*ratio, ratio))
		}
		rows[cy] = line.String()
	}

	return &Surface{
		Page:          number,
		Zoom:          zoom,
		Scale:         scale,
		Width:         cssW,
		Height:        cssH,
		BackingWidth:  backW,
		BackingHeight: backH,
		PixelRatio:    ratio,
		Rows:          rows,
		Text:          layer,
	}, nil
}

// downsample collapses one ratio x ratio block. Text wins over image shading.
func downsample(backing [][]rune, lum [][]float64, x0, y0, ratio int) rune {
	var total float64
	for y := y0; y < y0+ratio; y++ {
		for x := x0; x < x0+ratio; x++ {
			if r := backing[y][x]; r != ' ' {
				return r
			}
			if lum != nil {
				total += lum[y][x]
			}
		}
	}
	if lum == nil {
		return ' '
	}
	darkness := 1 - total/float64(ratio*ratio)
	idx := int(darkness * float64(len(shadeRamp)-1))
	idx = min(max(idx, 0), len(shadeRamp)-1)
	return rune(shadeRamp[idx])
}

func sampleLuminance(img image.Image, w, h int) [][]float64 {
	bounds := img.Bounds()
	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		py := bounds.Min.Y + int((float64(y)+0.5)*float64(bounds.Dy())/float64(h))
		for x := 0; x < w; x++ {
			px := bounds.Min.X + int((float64(x)+0.5)*float64(bounds.Dx())/float64(w))
			gray := color.GrayModel.Convert(img.At(px, py)).(color.Gray)
			out[y][x] = float64(gray.Y) / 255
		}
	}
	return out
}
