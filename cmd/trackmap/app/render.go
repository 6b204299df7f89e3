package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
)

const (
	dpi            = 96.0
	fontSize       = 10.0
	tickMarkLength = 5
	pixelsPerLabel = 100.0
	minPlotSize    = 100

	pointRadius  = 3
	anchorRadius = 6

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 60
	defaultBottomBorder = 40
	defaultRightBorder  = 30

	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the X scale
	Left   int // Space for the Y scale
	Bottom int // Space for the information bar
	Right  int // Right padding
}

// RenderConfig holds the options of the track visualization
type RenderConfig struct {
	Width          int            // Plot area width in pixels
	Height         int            // Plot area height in pixels
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display
	FontSize       float64        // Font size in points
	NoAnnotations  bool
	BorderConfig   BorderConfig
}

// TrackRenderer draws a session track onto an image
type TrackRenderer struct {
	config RenderConfig
}

func NewTrackRenderer(config RenderConfig) (*TrackRenderer, error) {
	if config.Width < minPlotSize || config.Height < minPlotSize {
		return nil, fmt.Errorf("plot area must be at least %dx%d pixels", minPlotSize, minPlotSize)
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &TrackRenderer{config: config}, nil
}

// Render draws the anchors, the receiver and every position of the track
func (r *TrackRenderer) Render(data *TrackData) (*image.RGBA, error) {
	borders := r.config.BorderConfig
	fullWidth := r.config.Width + borders.Left + borders.Right
	fullHeight := r.config.Height + borders.Top + borders.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	min, max := data.Bounds()
	proj := NewProjection(min, max, borders.Left, borders.Top, r.config.Width, r.config.Height)
	plot := image.Rect(borders.Left, borders.Top, borders.Left+proj.Width(), borders.Top+proj.Height())
	step := niceGridStep(max.X-min.X, proj.Width())

	r.renderGrid(img, plot, proj, step)
	r.renderTrack(img, proj, data)
	r.renderLayout(img, proj, data.Layout)

	if r.config.NoAnnotations {
		return img, nil
	}

	ann, err := newAnnotator(annotatorConfig{
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontSize:       r.config.FontSize,
		Borders:        borders,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, plot, proj, step, data); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	return img, nil
}

func (r *TrackRenderer) renderGrid(img *image.RGBA, plot image.Rectangle, proj Projection, step float64) {
	for x := math.Ceil(proj.Min.X/step) * step; x <= proj.Max.X; x += step {
		px, _ := proj.Pixel(geometry.Point{X: x})
		c := color.Color(gridColor)
		if x == 0 {
			c = axisColor
		}
		drawLine(img, px, plot.Min.Y, px, plot.Max.Y, c)
	}
	for y := math.Ceil(proj.Min.Y/step) * step; y <= proj.Max.Y; y += step {
		_, py := proj.Pixel(geometry.Point{Y: y})
		c := color.Color(gridColor)
		if y == 0 {
			c = axisColor
		}
		drawLine(img, plot.Min.X, py, plot.Max.X, py, c)
	}

	drawRect(img, plot, axisColor)
}

func (r *TrackRenderer) renderTrack(img *image.RGBA, proj Projection, data *TrackData) {
	span := data.TimestampEnd.Sub(data.TimestampStart)
	threshold := data.Layout.AccuracyThreshold

	// path first so the markers stay on top
	for i := 1; i < len(data.Points); i++ {
		x0, y0 := proj.Pixel(geometry.Point{X: data.Points[i-1].X, Y: data.Points[i-1].Y})
		x1, y1 := proj.Pixel(geometry.Point{X: data.Points[i].X, Y: data.Points[i].Y})
		drawLine(img, x0, y0, x1, y1, pathColor)
	}

	for _, p := range data.Points {
		x, y := proj.Pixel(geometry.Point{X: p.X, Y: p.Y})
		c := pointColor(p.Accuracy, threshold, p.Age(data.TimestampEnd), span)
		if p.Valid {
			fillCircle(img, x, y, pointRadius, c)
		} else {
			drawCircle(img, x, y, pointRadius, c)
		}
	}
}

func (r *TrackRenderer) renderLayout(img *image.RGBA, proj Projection, layout *Layout) {
	for _, a := range layout.Anchors {
		x, y := proj.Pixel(a.Point)
		fillRect(img, image.Rect(x-anchorRadius, y-anchorRadius, x+anchorRadius+1, y+anchorRadius+1), anchorColor)
	}

	if layout.Receiver != nil {
		x, y := proj.Pixel(*layout.Receiver)
		for d := -anchorRadius; d <= anchorRadius; d++ {
			img.Set(x+d, y+d, receiverColor)
			img.Set(x+d, y-d, receiverColor)
		}
	}
}

type annotatorConfig struct {
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, plot image.Rectangle, proj Projection, step float64, data *TrackData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawXScale(img, plot, proj, step); err != nil {
		return fmt.Errorf("drawing X scale: %w", err)
	}
	if err := a.drawYScale(img, plot, proj, step); err != nil {
		return fmt.Errorf("drawing Y scale: %w", err)
	}
	if err := a.drawLabels(proj, data.Layout); err != nil {
		return fmt.Errorf("drawing labels: %w", err)
	}
	if err := a.drawInfoBar(img, proj, data); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawXScale(img *image.RGBA, plot image.Rectangle, proj Projection, step float64) error {
	textY := plot.Min.Y - tickMarkLength - 2

	for x := math.Ceil(proj.Min.X/step) * step; x <= proj.Max.X; x += step {
		px, _ := proj.Pixel(geometry.Point{X: x})
		for y := plot.Min.Y - tickMarkLength; y < plot.Min.Y; y++ {
			img.Set(px, y, color.Black)
		}

		label := formatCentimetres(x)
		width := font.MeasureString(a.fontFace, label)
		if _, err := a.context.DrawString(label, freetype.Pt(px-width.Round()/2, textY)); err != nil {
			return fmt.Errorf("drawing X label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawYScale(img *image.RGBA, plot image.Rectangle, proj Projection, step float64) error {
	metrics := a.fontFace.Metrics()

	for y := math.Ceil(proj.Min.Y/step) * step; y <= proj.Max.Y; y += step {
		_, py := proj.Pixel(geometry.Point{Y: y})
		for x := plot.Min.X - tickMarkLength; x < plot.Min.X; x++ {
			img.Set(x, py, color.Black)
		}

		label := formatCentimetres(y)
		width := font.MeasureString(a.fontFace, label)
		textX := plot.Min.X - tickMarkLength - 3 - width.Round()
		textY := py + a.fontHeight()/2 - metrics.Descent.Round()
		if _, err := a.context.DrawString(label, freetype.Pt(textX, textY)); err != nil {
			return fmt.Errorf("drawing Y label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawLabels(proj Projection, layout *Layout) error {
	for _, anchor := range layout.Anchors {
		x, y := proj.Pixel(anchor.Point)
		pt := freetype.Pt(x+anchorRadius+3, y-anchorRadius)
		if _, err := a.context.DrawString(fmt.Sprintf("A%d", anchor.ID), pt); err != nil {
			return err
		}
	}

	if layout.Receiver != nil {
		x, y := proj.Pixel(*layout.Receiver)
		if _, err := a.context.DrawString("RX", freetype.Pt(x+anchorRadius+3, y-anchorRadius)); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, proj Projection, data *TrackData) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Session %d", data.Session.ID))
	if !data.TimestampStart.IsZero() {
		sb.WriteString(fmt.Sprintf("; Time: %s - %s",
			data.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
			data.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat)))
	}
	sb.WriteString(fmt.Sprintf("; Positions: %s valid, %s invalid, %s failed",
		humanize.Comma(int64(data.Valid)),
		humanize.Comma(int64(data.Invalid)),
		humanize.Comma(int64(data.Unknown))))
	sb.WriteString(fmt.Sprintf("; 1px = %.2f cm", 1/proj.Scale))

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-a.fontHeight())/2 - metrics.Descent.Round()

	if _, err := a.context.DrawString(sb.String(), freetype.Pt(a.config.Borders.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// Helper functions

func niceGridStep(span float64, width int) float64 {
	// Standard step sizes in cm
	steps := []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1_000, 2_000, 5_000}

	desired := math.Max(float64(width)/pixelsPerLabel, 1)
	target := span / desired

	for _, step := range steps {
		if step >= target {
			return step
		}
	}
	return steps[len(steps)-1]
}

func formatCentimetres(cm float64) string {
	if math.Abs(cm) >= 100 {
		return fmt.Sprintf("%gm", cm/100)
	}
	return fmt.Sprintf("%gcm", cm)
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	drawLine(img, r.Min.X, r.Min.Y, r.Max.X, r.Min.Y, c)
	drawLine(img, r.Max.X, r.Min.Y, r.Max.X, r.Max.Y, c)
	drawLine(img, r.Max.X, r.Max.Y, r.Min.X, r.Max.Y, c)
	drawLine(img, r.Min.X, r.Max.Y, r.Min.X, r.Min.Y, c)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func fillCircle(img *image.RGBA, cx, cy, radius int, c color.Color) {
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius {
				img.Set(cx+x, cy+y, c)
			}
		}
	}
}

func drawCircle(img *image.RGBA, cx, cy, radius int, c color.Color) {
	inner := (radius - 1) * (radius - 1)
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if d := x*x + y*y; d <= radius*radius && d > inner {
				img.Set(cx+x, cy+y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
