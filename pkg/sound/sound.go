// Package sound decodes MP3 audio and extracts the features shown in the
// preview and used by the analysis.
package sound

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Channels decoded by go-mp3, which always outputs stereo.
const Channels = 2

type Analyzer struct {
	mono     []float64
	rate     int
	duration time.Duration
}

// NewAnalyzer decodes the MP3 file at path.
func NewAnalyzer(path string) (*Analyzer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't open file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads MP3 data until EOF.
func Decode(r io.Reader) (*Analyzer, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't decode mp3: %w", err)
	}

	// 16-bit little endian samples, left and right interleaved
	var mono []float64
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := decoder.Read(buf)
		pending = append(pending, buf[:n]...)
		for len(pending) >= 4 {
			left := float64(int16(pending[0])|int16(pending[1])<<8) / 32768.0
			right := float64(int16(pending[2])|int16(pending[3])<<8) / 32768.0
			mono = append(mono, (left+right)/2.0)
			pending = pending[4:]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sound: couldn't read sample: %w", err)
		}
	}
	return newAnalyzer(mono, decoder.SampleRate()), nil
}

func newAnalyzer(mono []float64, rate int) *Analyzer {
	var duration time.Duration
	if rate > 0 {
		duration = time.Duration(float64(len(mono)) / float64(rate) * float64(time.Second))
	}
	return &Analyzer{
		mono:     mono,
		rate:     rate,
		duration: duration,
	}
}

func (a *Analyzer) Duration() time.Duration {
	return a.duration
}

func (a *Analyzer) SampleRate() int {
	return a.rate
}

// Resample returns the min and max values of each window.
func (a *Analyzer) Resample(windowSize time.Duration) []float64 {
	var resampled []float64
	for _, window := range a.windows(windowSize) {
		var min, max float64
		for _, v := range window {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		resampled = append(resampled, min, max)
	}
	return resampled
}

func (a *Analyzer) RMS(windowSize time.Duration) []float64 {
	var rms []float64
	for _, window := range a.windows(windowSize) {
		rms = append(rms, calculateRMS(window))
	}
	return rms
}

func (a *Analyzer) windows(size time.Duration) [][]float64 {
	length := int(float64(a.rate) * size.Seconds())
	if length < 1 {
		length = 1
	}
	var windows [][]float64
	for i := 0; i < len(a.mono); i += length {
		end := i + length
		if end > len(a.mono) {
			end = len(a.mono)
		}
		windows = append(windows, a.mono[i:end])
	}
	return windows
}

func calculateRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var squareSum float64
	for _, sample := range samples {
		squareSum += sample * sample
	}
	return math.Sqrt(squareSum / float64(len(samples)))
}

// fullScaleRMS is the RMS of a full scale sine wave.
const fullScaleRMS = 1 / math.Sqrt2

// Energy returns the overall loudness between 0 and 1.
func (a *Analyzer) Energy() float64 {
	e := calculateRMS(a.mono) / fullScaleRMS
	if e > 1 {
		return 1
	}
	return math.Round(e*1000) / 1000
}

// EnergyLevel maps an energy value to low, medium or high.
func EnergyLevel(e float64) string {
	switch {
	case e < 0.15:
		return "low"
	case e < 0.35:
		return "medium"
	default:
		return "high"
	}
}

// PlotWave renders the waveform. Format is png or jpeg.
func (a *Analyzer) PlotWave(name, format string) ([]byte, error) {
	window := 50 * time.Millisecond
	resampled := a.Resample(window)
	return createPlot(name, resampled, -1, 1, window.Seconds(), format)
}

func createPlot(name string, data []float64, min, max float64, window float64, format string) ([]byte, error) {
	if format == "" {
		format = "png"
	}
	p := plot.New()
	p.Y.Min = min
	p.Y.Max = max

	d := time.Duration(float64(len(data)) * window * 0.5 * float64(time.Second)).Round(time.Second)
	p.Title.Text = fmt.Sprintf("%s %s", name, d)
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "amplitude"

	// Two points per window
	pts := make(plotter.XYs, len(data))
	for i, v := range data {
		pts[i].X = float64(i) * window * 0.5
		pts[i].Y = v
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't create line plotter: %w", err)
	}
	l.LineStyle.Width = vg.Points(1)
	p.Add(l)

	c, err := p.WriterTo(8*vg.Inch, 3*vg.Inch, format)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't create plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("sound: couldn't write plot: %w", err)
	}
	return buf.Bytes(), nil
}
