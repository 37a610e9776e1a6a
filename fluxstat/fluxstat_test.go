package fluxstat

import (
	"math"
	"testing"
)

// mix builds an interval stream containing count copies of each value,
// interleaved so histogram order does not depend on input order.
func mix(counts map[float64]int) []float64 {
	var out []float64
	for {
		emitted := false
		for _, v := range []float64{2000, 3000, 4000, 5333, 6667, 8000} {
			if counts[v] > 0 {
				counts[v]--
				out = append(out, v)
				emitted = true
			}
		}
		if !emitted {
			return out
		}
	}
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{2000, 4000, 3000})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Count != 3 {
		t.Errorf("Count = %d, want 3", s.Count)
	}
	if s.MeanNs != 3000 {
		t.Errorf("MeanNs = %v, want 3000", s.MeanNs)
	}
	if s.MinNs != 2000 || s.MaxNs != 4000 {
		t.Errorf("Min/Max = %v/%v, want 2000/4000", s.MinNs, s.MaxNs)
	}
	if math.Abs(s.StdNs-1000) > 1e-9 {
		t.Errorf("StdNs = %v, want 1000", s.StdNs)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if _, err := Summarize(nil); err != ErrTooFewSamples {
		t.Errorf("err = %v, want ErrTooFewSamples", err)
	}
}

func TestHistogramPeaks(t *testing.T) {
	intervals := mix(map[float64]int{2000: 500, 3000: 350, 4000: 150})
	h := NewHistogram(intervals, 100, 16000)
	if h.Total != 1000 {
		t.Fatalf("Total = %d, want 1000", h.Total)
	}

	peaks := h.Peaks()
	if len(peaks) != 3 {
		t.Fatalf("got %d peaks, want 3", len(peaks))
	}
	wantCenters := []float64{2050, 3050, 4050}
	for i, p := range peaks {
		if p.CenterNs != wantCenters[i] {
			t.Errorf("peak %d center = %v, want %v", i, p.CenterNs, wantCenters[i])
		}
	}
	if peaks[0].Percent != 50 {
		t.Errorf("peak 0 percent = %v, want 50", peaks[0].Percent)
	}
}

func TestHistogramDropsOutliers(t *testing.T) {
	h := NewHistogram([]float64{-5, 0, 2000, 20000}, 100, 16000)
	if h.Total != 1 {
		t.Errorf("Total = %d, want 1", h.Total)
	}
}

func TestDetectEncodingMFM(t *testing.T) {
	intervals := mix(map[float64]int{2000: 500, 3000: 350, 4000: 150})
	if enc := DetectEncoding(intervals); enc != EncodingMFM {
		t.Errorf("encoding = %v, want MFM", enc)
	}
}

func TestDetectEncodingFM(t *testing.T) {
	intervals := mix(map[float64]int{4000: 600, 8000: 400})
	if enc := DetectEncoding(intervals); enc != EncodingFM {
		t.Errorf("encoding = %v, want FM", enc)
	}
}

func TestDetectEncodingGCR(t *testing.T) {
	intervals := mix(map[float64]int{4000: 500, 5333: 300, 6667: 200})
	if enc := DetectEncoding(intervals); enc != EncodingGCR {
		t.Errorf("encoding = %v, want GCR", enc)
	}
}

func TestDetectEncodingTooFewSamples(t *testing.T) {
	intervals := mix(map[float64]int{2000: 30, 3000: 20})
	if enc := DetectEncoding(intervals); enc != EncodingUnknown {
		t.Errorf("encoding = %v, want unknown", enc)
	}
}

func TestRevolutionDurationAndRPM(t *testing.T) {
	intervals := make([]float64, 100000)
	for i := range intervals {
		intervals[i] = 2000
	}
	d := RevolutionDuration(intervals)
	if d != 200e6 {
		t.Fatalf("duration = %v, want 2e8", d)
	}
	if rpm := RPM(d); rpm != 300 {
		t.Errorf("rpm = %v, want 300", rpm)
	}
	if RPM(0) != 0 {
		t.Errorf("RPM(0) should be 0")
	}
}
