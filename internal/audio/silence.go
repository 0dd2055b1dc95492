package audio

import (
	"math"
)

// DefaultSilenceThresholdDBFS is the RMS level at or below which a recording
// counts as silence.
const DefaultSilenceThresholdDBFS = -65.0

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilentWAV reports whether the WAV file at path carries no audible signal.
// The peak may exceed the RMS threshold by 6 dB before a file stops counting
// as silent, so isolated clicks do not trigger a transcription.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	buf, bitDepth, err := decodeWAV(path)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	metrics := measure(buf.Data, bitDepth)
	return isSilent(metrics, thresholdDBFS), metrics, nil
}

// IsSilentClip applies the same gate to samples already in memory.
func IsSilentClip(clip Clip, thresholdDBFS float64) (bool, SilenceMetrics) {
	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		data[i] = int(s)
	}
	metrics := measure(data, 16)
	return isSilent(metrics, thresholdDBFS), metrics
}

func isSilent(metrics SilenceMetrics, thresholdDBFS float64) bool {
	if metrics.Samples == 0 {
		return true
	}
	if math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1) {
		return true
	}

	peakGate := thresholdDBFS + 6
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= peakGate
}

func measure(data []int, bitDepth int) SilenceMetrics {
	if len(data) == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}

	var peak, sumSquares float64
	for _, v := range data {
		value := normalize(v, bitDepth)
		abs := math.Abs(value)
		if abs > peak {
			peak = abs
		}
		sumSquares += value * value
	}

	rms := math.Sqrt(sumSquares / float64(len(data)))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  int64(len(data)),
	}
}

func normalize(v int, bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return float64(v-128) / 128.0
	case 24:
		return float64(v) / 8388608.0
	case 32:
		return float64(v) / 2147483648.0
	default:
		return float64(v) / 32768.0
	}
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
