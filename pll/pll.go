package pll

import "fmt"

// FluxSource provides flux intervals for the PLL algorithm.
// Capture-hardware clients and image parsers implement this interface to
// supply flux data in their own format.
type FluxSource interface {
	// NextFlux returns the next flux interval in nanoseconds (time until
	// next transition). Returns 0 if no more transitions are available.
	NextFlux() uint64
}

// FluxIterator provides flux intervals from absolute transition times.
// It implements the FluxSource interface.
type FluxIterator struct {
	transitions []uint64 // Absolute transition times in nanoseconds
	index       int      // Current index into transitions
	lastTime    uint64   // Last transition time (for calculating intervals)
}

// NewFluxIterator creates a new FluxIterator from transition times.
func NewFluxIterator(transitions []uint64) *FluxIterator {
	return &FluxIterator{transitions: transitions}
}

// NextFlux returns the next flux interval in nanoseconds (time until next
// transition). Returns 0 if no more transitions are available.
func (fi *FluxIterator) NextFlux() uint64 {
	if fi.index >= len(fi.transitions) {
		return 0
	}
	nextTime := fi.transitions[fi.index]
	interval := nextTime - fi.lastTime
	fi.lastTime = nextTime
	fi.index++
	return interval
}

// IsDone returns true if all transitions have been consumed.
func (fi *FluxIterator) IsDone() bool {
	return fi.index >= len(fi.transitions)
}

// Decoder converts flux-transition intervals into a bitstream while
// continuously re-estimating the true bitcell period. One decoder instance
// decodes one track revolution at a time and is not safe for concurrent use.
type Decoder struct {
	cfg Config

	clock float64 // current clock period estimate (ns)
	flux  float64 // phase accumulator: time not yet attributed to a cell

	clockedZeros int // consecutive zero bits
	goodBits     int // bits correctly tracked since last resync
	synced       bool

	// PI controller state
	integral  float64
	lastError float64

	// Adaptive effective gains (start at the configured base gains)
	gainP float64
	gainI float64

	// Kalman filter state
	kalmanEstimate float64
	kalmanCov      float64

	stats Stats
	out   []byte // scratch buffer returned by Process
}

// NewDecoder creates a decoder for the given configuration. The
// configuration is normalized (out-of-range values clamped) before use.
func NewDecoder(cfg Config) *Decoder {
	cfg.Normalize()
	d := &Decoder{cfg: cfg}
	d.Reset()
	return d
}

// Config returns the decoder's normalized configuration.
func (d *Decoder) Config() Config {
	return d.cfg
}

// SetConfig replaces the configuration and unconditionally resets all
// decoder state.
func (d *Decoder) SetConfig(cfg Config) {
	cfg.Normalize()
	d.cfg = cfg
	d.Reset()
}

// Reset restores the decoder to its initial unsynchronized state, clearing
// the clock estimate, accumulators and statistics.
func (d *Decoder) Reset() {
	d.clock = d.cfg.ClockCentreNs
	d.flux = 0
	d.clockedZeros = 0
	d.goodBits = 0
	d.synced = false
	d.integral = 0
	d.lastError = 0
	d.gainP = d.cfg.GainP
	d.gainI = d.cfg.GainI
	d.kalmanEstimate = d.cfg.ClockCentreNs
	d.kalmanCov = 100.0
	d.stats = Stats{}
}

// OnIndexPulse aligns decoding to the start of a new physical revolution.
// Only the phase accumulator is cleared; the clock estimate and statistics
// carry over.
func (d *Decoder) OnIndexPulse() {
	d.flux = 0
}

// Synchronized reports whether the decoder currently trusts its clock
// estimate.
func (d *Decoder) Synchronized() bool {
	return d.synced
}

// ClockNs returns the current clock period estimate in nanoseconds.
func (d *Decoder) ClockNs() float64 {
	return d.clock
}

// Stats returns a copy of the running statistics block.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Quality returns the decoder's 0-100 quality score, derived from the
// synchronization state and the phase-error statistics.
func (d *Decoder) Quality() int {
	return d.stats.quality(d.synced, d.cfg.ClockCentreNs)
}

// Process consumes one flux interval in nanoseconds and returns the bits
// decoded from it, oldest first. The returned slice aliases an internal
// buffer that is valid until the next call.
//
// Intervals below the noise filter produce no bits and leave the decoder
// state untouched. Zero and negative intervals violate the caller contract;
// they are clamped to the noise floor, which routes them down the same
// no-bit path rather than producing a spurious bit.
func (d *Decoder) Process(fluxNs float64) []byte {
	d.out = d.out[:0]

	if fluxNs <= 0 || fluxNs < d.cfg.NoiseFilterNs {
		d.stats.NoiseRejects++
		return d.out
	}
	if d.cfg.FluxScalePercent != 100 {
		fluxNs = fluxNs * d.cfg.FluxScalePercent / 100
	}

	d.flux += fluxNs

	for d.flux >= d.clock/2 {
		if d.flux >= d.clock*1.5 {
			// No transition inside this window.
			d.emitZero()
			d.flux -= d.clock
			continue
		}
		// Transition inside this window.
		d.emitOne()
		d.flux -= d.clock
	}

	return d.out
}

// emitZero books one clocked-zero bit and handles sync loss.
func (d *Decoder) emitZero() {
	d.out = append(d.out, 0)
	d.clockedZeros++

	if d.cfg.TrackQuality {
		d.stats.BitsDecoded++
		d.stats.Zeros++
		d.stats.observeBitcell(d.clock)
	}

	if d.clockedZeros > d.cfg.MaxZeros {
		d.loseSync()
	}
}

// emitOne books one transition bit, runs the control law and updates the
// synchronization state.
func (d *Decoder) emitOne() {
	d.out = append(d.out, 1)
	d.clockedZeros = 0

	// Phase error: how far the transition landed from the cell boundary.
	phaseErr := d.flux - d.clock

	d.adjustClock(phaseErr)

	if d.clock < d.cfg.ClockMinNs {
		d.clock = d.cfg.ClockMinNs
	}
	if d.clock > d.cfg.ClockMaxNs {
		d.clock = d.cfg.ClockMaxNs
	}

	if d.cfg.TrackQuality {
		d.stats.BitsDecoded++
		d.stats.Ones++
		d.stats.observeBitcell(d.clock)
		d.stats.observePhaseError(phaseErr)
		if d.cfg.JitterPercent > 0 {
			limit := d.clock * d.cfg.JitterPercent / 100
			if phaseErr > limit || phaseErr < -limit {
				d.stats.JitterErrors++
			}
		}
	}

	d.goodBits++
	if !d.synced && d.goodBits >= d.cfg.SyncBits {
		d.synced = true
		d.stats.SyncRecoveries++
		if d.cfg.Debug {
			fmt.Printf("pll: sync acquired after %d bits, clock %.0f ns\n",
				d.goodBits, d.clock)
		}
	}

	if d.cfg.Algorithm == AlgorithmAdaptive && d.cfg.AdaptiveGain {
		d.adaptGains()
	}
}

// loseSync declares loss of synchronization and recentres the loop.
func (d *Decoder) loseSync() {
	if d.cfg.Debug {
		fmt.Printf("pll: sync lost after %d zeros, clock %.0f ns\n",
			d.clockedZeros, d.clock)
	}
	d.synced = false
	d.stats.SyncLosses++
	d.clock = d.cfg.ClockCentreNs
	d.integral = 0
	d.lastError = 0
	d.clockedZeros = 0
	d.goodBits = 0
}

// adjustClock applies the algorithm-specific control law for one transition
// with the given phase error.
func (d *Decoder) adjustClock(phaseErr float64) {
	switch d.cfg.Algorithm {
	case AlgorithmThreshold:
		// Fixed clock, no adjustment.

	case AlgorithmDPLL:
		d.clock += phaseErr * d.cfg.AdjustPercent / 100

	case AlgorithmPI:
		d.integral += phaseErr * d.gainI
		// Anti-windup: the integral term may not push the clock more
		// than half a bitcell away from centre.
		limit := d.cfg.ClockCentreNs / 2
		if d.integral > limit {
			d.integral = limit
		}
		if d.integral < -limit {
			d.integral = -limit
		}
		d.clock += phaseErr*d.gainP + d.integral + (phaseErr-d.lastError)*d.cfg.GainD
		d.lastError = phaseErr

	case AlgorithmAdaptive:
		d.clock += phaseErr * d.gainP

	case AlgorithmKalman:
		// Scalar predict/update on the bitcell estimate; the observed
		// full period is the measurement.
		measurement := d.clock + phaseErr
		cov := d.kalmanCov + d.cfg.ProcessNoise
		gain := cov / (cov + d.cfg.MeasurementNoise)
		d.kalmanEstimate += gain * (measurement - d.kalmanEstimate)
		d.kalmanCov = (1 - gain) * cov
		d.clock = d.kalmanEstimate

	case AlgorithmSCP:
		if d.clockedZeros <= 3 {
			// In sync: adjust base clock by a fraction of the
			// phase mismatch.
			d.clock += phaseErr * d.cfg.AdjustPercent / 100
		} else {
			// Out of sync: adjust base clock towards centre.
			d.clock += (d.cfg.ClockCentreNs - d.clock) * d.cfg.AdjustPercent / 100
		}
		// Retain part of the phase error instead of snapping the
		// timing window to the transition. The accumulator keeps the
		// full error at this point; shed the configured share now so
		// the upcoming period subtraction leaves the remainder.
		d.flux -= phaseErr * d.cfg.PhasePercent / 100

	default:
		d.clock += phaseErr * d.cfg.AdjustPercent / 100
	}
}

// Adaptive gain scaling factors relative to the configured base gains.
const (
	adaptiveSyncedScale = 1.5
	adaptiveSeekScale   = 0.5
)

// adaptGains rescales the effective gains with the synchronization state:
// higher gain while locked (responsiveness), lower while hunting (noise
// rejection).
func (d *Decoder) adaptGains() {
	if d.synced {
		d.gainP = d.cfg.GainP * adaptiveSyncedScale
		d.gainI = d.cfg.GainI * adaptiveSyncedScale
	} else {
		d.gainP = d.cfg.GainP * adaptiveSeekScale
		d.gainI = d.cfg.GainI * adaptiveSeekScale
	}
}

// DecodeBits feeds every interval through Process and packs the decoded bits
// most-significant-bit-first into bytes. It returns the packed bytes and the
// number of valid bits (which need not be a multiple of 8). Intervals that
// produce no bit are skipped.
//
// DecodeBits is not restartable mid-stream: call Reset (or use a fresh
// decoder) before decoding another revolution.
func (d *Decoder) DecodeBits(intervals []float64) ([]byte, uint32) {
	var (
		packed   []byte
		bitCount uint32
	)
	for _, interval := range intervals {
		for _, bit := range d.Process(interval) {
			if bitCount%8 == 0 {
				packed = append(packed, 0)
			}
			if bit != 0 {
				packed[bitCount/8] |= 0x80 >> (bitCount % 8)
			}
			bitCount++
		}
	}
	return packed, bitCount
}

// DecodeFrom drives a FluxSource to exhaustion, packing decoded bits
// MSB-first as DecodeBits does.
func (d *Decoder) DecodeFrom(source FluxSource) ([]byte, uint32) {
	var (
		packed   []byte
		bitCount uint32
	)
	for {
		interval := source.NextFlux()
		if interval == 0 {
			return packed, bitCount
		}
		for _, bit := range d.Process(float64(interval)) {
			if bitCount%8 == 0 {
				packed = append(packed, 0)
			}
			if bit != 0 {
				packed[bitCount/8] |= 0x80 >> (bitCount % 8)
			}
			bitCount++
		}
	}
}
