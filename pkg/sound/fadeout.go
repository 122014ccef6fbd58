package sound

import (
	"time"
)

// HasFadeOut reports whether the loudness decreases steadily during the last
// second.
func (a *Analyzer) HasFadeOut() bool {
	rmsWindow := 100 * time.Millisecond
	fadeOutWindow := 1 * time.Second
	n := int(fadeOutWindow.Seconds() / rmsWindow.Seconds())
	rms := a.RMS(rmsWindow)
	if len(rms) < n {
		return false
	}
	rms = rms[len(rms)-n:]
	if rms[0]-rms[len(rms)-1] < 0.01 {
		return false
	}

	// Count the windows louder than the previous one
	var count int
	for i := 1; i < len(rms); i++ {
		if rms[i]-rms[i-1] > 0.001 {
			count++
		}
	}
	return count <= 1
}

const bpmThreshold = 10.0

// TempoChange reports whether the tempo between splits deviates from the
// average by more than 10 bpm.
func (a *Analyzer) TempoChange(beats []float64, splits []float64) bool {
	bpms := a.BPMs(beats, splits)
	if len(bpms) < 2 {
		return false
	}
	var sum float64
	for _, bpm := range bpms {
		sum += bpm
	}
	avg := sum / float64(len(bpms))
	for _, bpm := range bpms {
		if bpm-avg > bpmThreshold || avg-bpm > bpmThreshold {
			return true
		}
	}
	return false
}

// BPMs counts the beats between consecutive splits, given in seconds.
func (a *Analyzer) BPMs(beats []float64, splits []float64) []float64 {
	i := 0
	bpms := make([]float64, len(splits)+1)
	for _, pos := range beats {
		for i < len(splits) && pos >= splits[i] {
			i++
		}
		bpms[i]++
	}
	bounds := append([]float64{0}, append(append([]float64{}, splits...), a.duration.Seconds())...)
	for i, v := range bpms {
		d := bounds[i+1] - bounds[i]
		if d <= 0 {
			bpms[i] = 0
			continue
		}
		bpms[i] = v * 60.0 / d
	}
	return bpms
}
