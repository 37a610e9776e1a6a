package pll

// Smoothing constants for the exponentially-weighted running averages.
// These affect the reported quality score, so they are fixed here rather
// than derived from the sample count.
const (
	EWMAKeep = 0.999
	EWMAMix  = 0.001
)

// Stats is the decoder's running statistics block. It is updated on every
// processed interval while quality tracking is enabled.
type Stats struct {
	BitsDecoded uint64
	Zeros       uint64
	Ones        uint64

	// Bitcell period observations in nanoseconds.
	MinBitcellNs  float64
	MaxBitcellNs  float64
	MeanBitcellNs float64 // exponentially-weighted moving average

	// Absolute phase error in nanoseconds.
	AvgPhaseErrorNs float64 // exponentially-weighted moving average
	MaxPhaseErrorNs float64

	SyncLosses     uint64
	SyncRecoveries uint64

	// NoiseRejects counts intervals dropped by the noise filter.
	NoiseRejects uint64
	// JitterErrors counts transitions whose phase error exceeded the
	// configured jitter window.
	JitterErrors uint64
}

// observeBitcell folds one clock-period observation into the running
// min/max/mean.
func (s *Stats) observeBitcell(clockNs float64) {
	if s.MinBitcellNs == 0 || clockNs < s.MinBitcellNs {
		s.MinBitcellNs = clockNs
	}
	if clockNs > s.MaxBitcellNs {
		s.MaxBitcellNs = clockNs
	}
	if s.MeanBitcellNs == 0 {
		s.MeanBitcellNs = clockNs
	} else {
		s.MeanBitcellNs = s.MeanBitcellNs*EWMAKeep + clockNs*EWMAMix
	}
}

// observePhaseError folds one absolute phase-error observation into the
// running average and maximum.
func (s *Stats) observePhaseError(errNs float64) {
	if errNs < 0 {
		errNs = -errNs
	}
	if errNs > s.MaxPhaseErrorNs {
		s.MaxPhaseErrorNs = errNs
	}
	s.AvgPhaseErrorNs = s.AvgPhaseErrorNs*EWMAKeep + errNs*EWMAMix
}

// quality derives the 0-100 score from the statistics and the current
// synchronization state.
func (s *Stats) quality(synced bool, centreNs float64) int {
	score := 50
	if synced {
		score += 20
	}
	if s.SyncLosses == 0 {
		score += 10
	}
	if centreNs > 0 {
		switch {
		case s.AvgPhaseErrorNs < centreNs*0.10:
			score += 20
		case s.AvgPhaseErrorNs < centreNs*0.20:
			score += 10
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
