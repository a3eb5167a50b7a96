// Package plotting renders sensor reading charts as PNG images.
package plotting

import (
	"bytes"
	"fmt"
	"image/color"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	chartWidth  = 10 * vg.Inch
	chartHeight = 5 * vg.Inch
)

// palette cycles per device so a device keeps its color across renders.
var palette = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

type point struct {
	at          time.Time
	temperature float64
	humidity    float64
}

// Collector accumulates readings per device and renders them on demand.
// All methods are safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	series map[string][]point
	order  []string
}

func NewCollector() *Collector {
	return &Collector{series: make(map[string][]point)}
}

// Add records one reading for the given device.
func (c *Collector) Add(deviceID string, at time.Time, temperature, humidity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.series[deviceID]; !ok {
		c.order = append(c.order, deviceID)
	}
	c.series[deviceID] = append(c.series[deviceID], point{at, temperature, humidity})
}

// Devices returns device ids in first-seen order.
func (c *Collector) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len reports the total number of readings held across all devices.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, pts := range c.series {
		n += len(pts)
	}
	return n
}

// Render draws stacked temperature and humidity charts and writes them to
// path as a PNG. The file appears atomically so a viewer refreshing the
// image never sees a partial write.
func (c *Collector) Render(path string) error {
	c.mu.Lock()
	type namedSeries struct {
		id  string
		pts []point
	}
	var all []namedSeries
	for _, id := range c.order {
		pts := make([]point, len(c.series[id]))
		copy(pts, c.series[id])
		sort.Slice(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
		all = append(all, namedSeries{id, pts})
	}
	c.mu.Unlock()

	if len(all) == 0 {
		return fmt.Errorf("no readings to plot")
	}

	tempPlot := newTimePlot("temperature (degC)")
	humPlot := newTimePlot("relative humidity (%)")
	humPlot.X.Label.Text = "timestamp"

	for i, s := range all {
		tempXY := make(plotter.XYs, len(s.pts))
		humXY := make(plotter.XYs, len(s.pts))
		for j, p := range s.pts {
			x := float64(p.at.Unix())
			tempXY[j] = plotter.XY{X: x, Y: p.temperature}
			humXY[j] = plotter.XY{X: x, Y: p.humidity}
		}
		col := palette[i%len(palette)]
		if err := addSeries(tempPlot, s.id, tempXY, col); err != nil {
			return err
		}
		if err := addSeries(humPlot, s.id, humXY, col); err != nil {
			return err
		}
	}

	img := vgimg.New(chartWidth, 2*chartHeight)
	dc := draw.New(img)
	canvases := plot.Align([][]*plot.Plot{{tempPlot}, {humPlot}}, draw.Tiles{Rows: 2, Cols: 1}, dc)
	tempPlot.Draw(canvases[0][0])
	humPlot.Draw(canvases[1][0])

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return fmt.Errorf("encode plot: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func newTimePlot(yLabel string) *plot.Plot {
	p := plot.New()
	p.Y.Label.Text = yLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05"}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())
	return p
}

func addSeries(p *plot.Plot, label string, xys plotter.XYs, col color.Color) error {
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return fmt.Errorf("series %s: %w", label, err)
	}
	line.Color = col
	points.Color = col
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(2)
	p.Add(line, points)
	p.Legend.Add(label, line, points)
	return nil
}
