package pll

// Default PLL tuning constants.
// The adjustment and phase percentages come from the SCP decoding algorithm;
// the clamp window matches the usual +/- 10% drive speed tolerance.
const (
	// CLOCK_MAX_ADJ is the default +/- clock window (90%-110% of centre)
	CLOCK_MAX_ADJ = 10
	// PERIOD_ADJ_PCT is the default period adjustment percentage
	PERIOD_ADJ_PCT = 5
	// PHASE_ADJ_PCT is the default phase retention percentage
	PHASE_ADJ_PCT = 60

	// DefaultSyncBits is the number of good bits required to declare sync
	DefaultSyncBits = 64
	// DefaultMaxZeros is the longest run of clocked zeros tolerated
	// before the decoder declares loss of synchronization
	DefaultMaxZeros = 64
)

// Algorithm selects the control law used to re-estimate the clock period.
type Algorithm int

const (
	// AlgorithmThreshold quantizes intervals against a fixed clock and
	// never adjusts the period. Cheapest, only usable on clean media.
	AlgorithmThreshold Algorithm = iota
	// AlgorithmDPLL adds a fixed percentage of the phase error to the
	// clock estimate on every transition.
	AlgorithmDPLL
	// AlgorithmPI runs a proportional-integral controller with
	// anti-windup clamping on the integral term.
	AlgorithmPI
	// AlgorithmAdaptive behaves as AlgorithmDPLL but rescales its gains
	// with the synchronization state.
	AlgorithmAdaptive
	// AlgorithmKalman tracks the bitcell period with a scalar Kalman
	// filter. Intended for damaged or intentionally off-nominal media.
	AlgorithmKalman
	// AlgorithmSCP emulates the SuperCard Pro controller: dual-mode
	// period adjustment with partial phase retention.
	AlgorithmSCP
)

// String returns a human-readable algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmThreshold:
		return "threshold"
	case AlgorithmDPLL:
		return "dpll"
	case AlgorithmPI:
		return "pi"
	case AlgorithmAdaptive:
		return "adaptive"
	case AlgorithmKalman:
		return "kalman"
	case AlgorithmSCP:
		return "scp"
	default:
		return "unknown"
	}
}

// ParseAlgorithm converts a name (as used in preset files) to an Algorithm.
// Unknown names fall back to AlgorithmDPLL.
func ParseAlgorithm(name string) Algorithm {
	switch name {
	case "threshold":
		return AlgorithmThreshold
	case "dpll":
		return AlgorithmDPLL
	case "pi":
		return AlgorithmPI
	case "adaptive":
		return AlgorithmAdaptive
	case "kalman":
		return AlgorithmKalman
	case "scp":
		return AlgorithmSCP
	default:
		return AlgorithmDPLL
	}
}

// Config holds the tuning parameters for a Decoder. A Config is bound to a
// decoder at construction and is read-only while decoding; replacing it via
// SetConfig resets all decoder state.
type Config struct {
	// BitcellNs is the nominal bitcell period in nanoseconds.
	BitcellNs float64
	// ClockMinNs and ClockMaxNs bound the clock estimate. Zero values
	// default to +/- CLOCK_MAX_ADJ percent of the centre.
	ClockMinNs float64
	ClockMaxNs float64
	// ClockCentreNs is the resynchronization target. Zero defaults to
	// BitcellNs.
	ClockCentreNs float64

	// AdjustPercent is the proportional clock adjustment rate (0-50).
	AdjustPercent float64
	// PhasePercent is the phase retention rate (0-90), used by
	// AlgorithmSCP. 100 would snap the timing window to every flux
	// transition; lower values track more smoothly.
	PhasePercent float64
	// FluxScalePercent rescales incoming intervals (100 = nominal),
	// compensating for drives spinning off-speed.
	FluxScalePercent float64

	// SyncBits is the number of consecutively decoded one bits required
	// to declare synchronization.
	SyncBits int
	// JitterPercent is the acceptable phase error as a percentage of the
	// clock period; transitions beyond it count as tracking errors.
	JitterPercent float64

	// FMOnly and GCROnly constrain the decoder to encodings with short
	// guaranteed transition spacing; Normalize caps MaxZeros accordingly.
	FMOnly  bool
	GCROnly bool

	// Algorithm selects the control law.
	Algorithm Algorithm

	// GainP, GainI and GainD are the controller gains for AlgorithmPI
	// (and the base gains for AlgorithmAdaptive).
	GainP float64
	GainI float64
	GainD float64

	// ProcessNoise and MeasurementNoise tune AlgorithmKalman.
	ProcessNoise     float64
	MeasurementNoise float64

	// NoiseFilterNs drops intervals shorter than this as electrical
	// noise; they produce no bit and leave the decoder untouched.
	NoiseFilterNs float64
	// MaxZeros is the longest run of zero bits tolerated before the
	// decoder declares sync loss and recentres its clock.
	MaxZeros int

	// TrackQuality enables the running statistics block.
	TrackQuality bool
	// AdaptiveGain lets AlgorithmAdaptive rescale its gains with the
	// synchronization state.
	AdaptiveGain bool
	// Debug enables decoder state dumps on sync transitions.
	Debug bool
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps out-of-range fields and fills defaults. It is applied at
// configuration time so that Process never has to fail on a valid interval.
func (c *Config) Normalize() {
	if c.BitcellNs <= 0 {
		c.BitcellNs = 2000 // 500 kbps MFM
	}
	if c.ClockCentreNs <= 0 {
		c.ClockCentreNs = c.BitcellNs
	}
	if c.ClockMinNs <= 0 {
		c.ClockMinNs = c.ClockCentreNs * (100 - CLOCK_MAX_ADJ) / 100
	}
	if c.ClockMaxNs <= 0 {
		c.ClockMaxNs = c.ClockCentreNs * (100 + CLOCK_MAX_ADJ) / 100
	}
	if c.ClockMinNs > c.ClockMaxNs {
		c.ClockMinNs, c.ClockMaxNs = c.ClockMaxNs, c.ClockMinNs
	}

	if c.AdjustPercent <= 0 {
		c.AdjustPercent = PERIOD_ADJ_PCT
	}
	c.AdjustPercent = clampf(c.AdjustPercent, 0, 50)
	if c.PhasePercent <= 0 {
		c.PhasePercent = PHASE_ADJ_PCT
	}
	c.PhasePercent = clampf(c.PhasePercent, 0, 90)
	if c.FluxScalePercent <= 0 {
		c.FluxScalePercent = 100
	}
	c.FluxScalePercent = clampf(c.FluxScalePercent, 10, 1000)

	if c.SyncBits <= 0 {
		c.SyncBits = DefaultSyncBits
	}
	c.JitterPercent = clampf(c.JitterPercent, 0, 100)

	if c.MaxZeros <= 0 {
		c.MaxZeros = DefaultMaxZeros
	}
	// FM carries a clock pulse in every cell, GCR guarantees a transition
	// at least every third cell; longer zero runs mean the loop is lost.
	if c.FMOnly && c.MaxZeros > 2 {
		c.MaxZeros = 2
	}
	if c.GCROnly && c.MaxZeros > 3 {
		c.MaxZeros = 3
	}

	if c.GainP <= 0 {
		c.GainP = 0.05
	}
	c.GainP = clampf(c.GainP, 0, 1)
	if c.GainI <= 0 {
		c.GainI = 0.005
	}
	c.GainI = clampf(c.GainI, 0, 1)
	c.GainD = clampf(c.GainD, 0, 1)

	if c.ProcessNoise <= 0 {
		c.ProcessNoise = 0.01
	}
	if c.MeasurementNoise <= 0 {
		c.MeasurementNoise = 1.0
	}

	if c.NoiseFilterNs < 0 {
		c.NoiseFilterNs = 0
	}
}

// DefaultConfig returns a normalized configuration for 500 kbps MFM with the
// digital-PLL control law.
func DefaultConfig() Config {
	cfg := Config{
		BitcellNs:    2000,
		Algorithm:    AlgorithmDPLL,
		TrackQuality: true,
	}
	cfg.Normalize()
	return cfg
}
