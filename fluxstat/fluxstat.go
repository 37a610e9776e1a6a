// Package fluxstat provides statistics over raw flux-transition intervals:
// summary measures, interval histograms, peak detection and encoding
// classification. It operates on intervals in nanoseconds, before any clock
// recovery has been applied.
package fluxstat

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Encoding is a coarse classification of the physical encoding scheme,
// inferred from the spacing pattern of flux transitions.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingFM
	EncodingMFM
	EncodingGCR
)

// String returns a human-readable encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingFM:
		return "FM"
	case EncodingMFM:
		return "MFM"
	case EncodingGCR:
		return "GCR"
	default:
		return "unknown"
	}
}

// ErrTooFewSamples is returned when a sample set is too small to analyze.
var ErrTooFewSamples = errors.New("fluxstat: too few samples")

// Summary holds basic statistics over a set of flux intervals.
type Summary struct {
	Count  int
	MeanNs float64
	StdNs  float64
	MinNs  float64
	MaxNs  float64
}

// Summarize computes summary statistics over the given intervals.
func Summarize(intervals []float64) (Summary, error) {
	if len(intervals) == 0 {
		return Summary{}, ErrTooFewSamples
	}

	s := Summary{
		Count:  len(intervals),
		MeanNs: stat.Mean(intervals, nil),
		MinNs:  math.Inf(1),
		MaxNs:  math.Inf(-1),
	}
	if len(intervals) > 1 {
		s.StdNs = stat.StdDev(intervals, nil)
	}
	for _, v := range intervals {
		if v < s.MinNs {
			s.MinNs = v
		}
		if v > s.MaxNs {
			s.MaxNs = v
		}
	}
	return s, nil
}

// Histogram is a fixed-bin-width histogram of flux intervals.
type Histogram struct {
	BinNs  float64 // bin width in nanoseconds
	Counts []uint32
	Total  uint64
}

// NewHistogram bins the intervals with the given bin width. Intervals beyond
// maxNs are dropped as outliers.
func NewHistogram(intervals []float64, binNs, maxNs float64) *Histogram {
	if binNs <= 0 {
		binNs = 100
	}
	if maxNs <= 0 {
		maxNs = 16000
	}
	h := &Histogram{
		BinNs:  binNs,
		Counts: make([]uint32, int(maxNs/binNs)+1),
	}
	for _, v := range intervals {
		if v <= 0 || v > maxNs {
			continue
		}
		h.Counts[int(v/binNs)]++
		h.Total++
	}
	return h
}

// Peak is one local maximum in an interval histogram.
type Peak struct {
	CenterNs float64 // bin centre of the maximum
	Count    uint64  // samples in the peak, boundary to boundary
	Percent  float64 // share of all samples
}

// Peaks locates significant local maxima, left to right. A bin qualifies as
// a peak when it dominates its neighborhood and carries at least 0.1% of all
// samples; peak boundaries extend while bins stay above a quarter of the
// maximum.
func (h *Histogram) Peaks() []Peak {
	if h.Total == 0 {
		return nil
	}

	var peaks []Peak
	i := 1
	for i < len(h.Counts)-1 && len(peaks) < 8 {
		c := h.Counts[i]
		if c == 0 || c < h.Counts[i-1] || c < h.Counts[i+1] {
			i++
			continue
		}
		if uint64(c)*1000 < h.Total {
			i++
			continue
		}

		// Extend boundaries to a quarter of the maximum.
		left := i
		for left > 0 && h.Counts[left-1] > c/4 && h.Counts[left-1] <= h.Counts[left] {
			left--
		}
		right := i
		for right < len(h.Counts)-1 && h.Counts[right+1] > c/4 && h.Counts[right+1] <= h.Counts[right] {
			right++
		}

		var count uint64
		for j := left; j <= right; j++ {
			count += uint64(h.Counts[j])
		}
		peaks = append(peaks, Peak{
			CenterNs: (float64(i) + 0.5) * h.BinNs,
			Count:    count,
			Percent:  float64(count) * 100 / float64(h.Total),
		})
		i = right + 2
	}
	return peaks
}

// DetectEncoding classifies the encoding from the ratio between the first
// two histogram peaks: MFM spaces transitions at 1:1.5:2 cell multiples, FM
// at 1:2, and GCR shows three or more peaks around 1:1.33:1.67.
func DetectEncoding(intervals []float64) Encoding {
	if len(intervals) < 100 {
		return EncodingUnknown
	}
	h := NewHistogram(intervals, 100, 16000)
	peaks := h.Peaks()
	if len(peaks) < 2 {
		return EncodingUnknown
	}

	ratio := peaks[1].CenterNs / peaks[0].CenterNs
	switch {
	case ratio > 1.4 && ratio < 1.6:
		return EncodingMFM
	case ratio > 1.9 && ratio < 2.1:
		return EncodingFM
	}

	if len(peaks) >= 3 {
		r13 := peaks[2].CenterNs / peaks[0].CenterNs
		if ratio > 1.2 && ratio < 1.5 && r13 > 1.5 && r13 < 1.8 {
			return EncodingGCR
		}
	}
	return EncodingUnknown
}

// RevolutionDuration sums the intervals of one revolution and returns the
// total duration in nanoseconds.
func RevolutionDuration(intervals []float64) float64 {
	var total float64
	for _, v := range intervals {
		if v > 0 {
			total += v
		}
	}
	return total
}

// RPM converts a revolution duration in nanoseconds to revolutions per
// minute. Returns 0 for a non-positive duration.
func RPM(durationNs float64) float64 {
	if durationNs <= 0 {
		return 0
	}
	return 60e9 / durationNs
}
