package export

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
)

// ChartRenderer turns a series into an image
type ChartRenderer interface {
	Render(title string, series []ChartPoint) ([]byte, error)
}

// BarChart draws a plain vertical bar chart as PNG. Labels and values are printed
// alongside the chart by the document formatters, so the image carries bars only.
type BarChart struct {
	Width      int
	Height     int
	Background color.RGBA
	Bar        color.RGBA
	Axis       color.RGBA
}

// DefaultBarChart returns a 640x320 chart in the report palette
func DefaultBarChart() *BarChart {
	return &BarChart{
		Width:      640,
		Height:     320,
		Background: color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		Bar:        color.RGBA{R: 0x2b, G: 0x6c, B: 0xb0, A: 0xff},
		Axis:       color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff},
	}
}

const chartMargin = 16

// Render draws series scaled to the largest value. Negative and NaN values draw as empty bars.
func (c *BarChart) Render(_ string, series []ChartPoint) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c.Background}, image.Point{}, draw.Src)

	left, bottom := chartMargin, c.Height-chartMargin
	right, top := c.Width-chartMargin, chartMargin

	// axes
	fill(img, image.Rect(left, top, left+2, bottom), c.Axis)
	fill(img, image.Rect(left, bottom-2, right, bottom), c.Axis)

	if len(series) > 0 {
		maxValue := 0.0
		for _, p := range series {
			if barValue(p.Value) > maxValue {
				maxValue = barValue(p.Value)
			}
		}

		plotWidth := right - left - 4
		plotHeight := bottom - top - 4
		slot := float64(plotWidth) / float64(len(series))
		gap := math.Max(1, slot*0.2)

		for i, p := range series {
			v := barValue(p.Value)
			if v == 0 || maxValue == 0 {
				continue
			}
			h := int(math.Round(v / maxValue * float64(plotHeight)))
			x0 := left + 4 + int(math.Round(float64(i)*slot+gap/2))
			x1 := left + 4 + int(math.Round(float64(i+1)*slot-gap/2))
			if x1 <= x0 {
				x1 = x0 + 1
			}
			fill(img, image.Rect(x0, bottom-2-h, x1, bottom-2), c.Bar)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func barValue(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
}
