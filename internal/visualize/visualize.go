// Package visualize renders the per-frame analysis trace as a 2x2 grid of line charts.
package visualize

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"

	"github.com/andresmejia3/veritas/internal/types"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Output image size in pixels: a 12x8 inch figure at 100 dpi.
const (
	Width  = 1200
	Height = 800
	DPI    = 100
)

// ErrNoRecords is returned when there is nothing to plot.
var ErrNoRecords = errors.New("no frame records to plot")

// RenderError wraps any failure inside the plotting library.
type RenderError struct {
	Panel string
	Err   error
}

func (e *RenderError) Error() string {
	if e.Panel == "" {
		return fmt.Sprintf("render visualization: %v", e.Err)
	}
	return fmt.Sprintf("render %q panel: %v", e.Panel, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

type panel struct {
	title  string
	yLabel string
	color  color.Color
	value  func(types.FrameRecord) float64
}

var panels = [4]panel{
	{"Consistency Score Over Time", "Score", color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
		func(r types.FrameRecord) float64 { return r.ConsistencyScore }},
	{"Lighting Consistency", "Score", color.RGBA{R: 0xff, G: 0xa5, A: 0xff},
		func(r types.FrameRecord) float64 { return r.LightingScore }},
	{"Motion Consistency", "Score", color.RGBA{G: 0x80, A: 0xff},
		func(r types.FrameRecord) float64 { return r.MotionScore }},
	{"Face Detections", "Number of Faces", color.RGBA{R: 0xff, A: 0xff},
		func(r types.FrameRecord) float64 { return float64(r.FaceCount) }},
}

// Render draws consistency, lighting, motion and face count against the
// timestamp and returns a PNG.
func Render(records []types.FrameRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	const rows, cols = 2, 2
	plots := make([][]*plot.Plot, rows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, cols)
	}

	for i, pn := range panels {
		p, err := linePlot(records, pn)
		if err != nil {
			return nil, &RenderError{Panel: pn.title, Err: err}
		}
		plots[i/cols][i%cols] = p
	}

	img := vgimg.NewWith(
		vgimg.UseWH(vg.Length(Width)/DPI*vg.Inch, vg.Length(Height)/DPI*vg.Inch),
		vgimg.UseDPI(DPI),
	)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      rows,
		Cols:      cols,
		PadX:      vg.Points(20),
		PadY:      vg.Points(20),
		PadTop:    vg.Points(10),
		PadBottom: vg.Points(10),
		PadLeft:   vg.Points(10),
		PadRight:  vg.Points(10),
	}

	canvases := plot.Align(plots, tiles, dc)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			plots[j][i].Draw(canvases[j][i])
		}
	}

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return nil, &RenderError{Err: err}
	}
	return buf.Bytes(), nil
}

func linePlot(records []types.FrameRecord, pn panel) (*plot.Plot, error) {
	pts := make(plotter.XYs, len(records))
	for i, r := range records {
		pts[i].X = r.Timestamp
		pts[i].Y = pn.value(r)
	}

	p := plot.New()
	p.Title.Text = pn.title
	p.X.Label.Text = "Time (seconds)"
	p.Y.Label.Text = pn.yLabel

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = pn.color
	line.Width = vg.Points(1.5)

	p.Add(plotter.NewGrid(), line)
	return p, nil
}

// Encode returns the PNG as standard base64 for embedding in JSON or HTML.
func Encode(png []byte) string {
	return base64.StdEncoding.EncodeToString(png)
}
