package pll

import (
	"fmt"
	"math/rand"
)

// GenerateFlux converts a raw bitcell stream to flux transition times.
// Bits are taken MSB-first; a one bit places a transition at the end of its
// cell, a zero bit leaves the cell empty. Transition times are in
// nanoseconds relative to the start of the stream.
func GenerateFlux(bits []byte, bitCount int, bitcellNs uint64) ([]uint64, error) {
	if bitCount <= 0 {
		return nil, fmt.Errorf("empty bitcell data")
	}
	if bitCount > len(bits)*8 {
		return nil, fmt.Errorf("bit count %d exceeds buffer of %d bits", bitCount, len(bits)*8)
	}

	var transitions []uint64
	currentTime := uint64(0)

	for i := 0; i < bitCount; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8) // MSB-first
		currentBit := (bits[byteIdx] & (1 << bitIdx)) != 0

		// Advance time by one bitcell period before checking for transition
		currentTime += bitcellNs

		if currentBit {
			transitions = append(transitions, currentTime)
		}
	}
	return transitions, nil
}

// Jitter adds random variation to flux transition times to simulate
// real-world timing wobble. Each transition moves by up to jitterFraction of
// the bitcell period while preserving ordering. The seed is explicit so
// tests stay reproducible.
func Jitter(transitions []uint64, bitcellNs uint64, jitterFraction float64, seed int64) []uint64 {
	rng := rand.New(rand.NewSource(seed))
	maxVariation := float64(bitcellNs) * jitterFraction

	jittered := make([]uint64, len(transitions))
	copy(jittered, transitions)

	previousTime := uint64(0)
	for i := range jittered {
		variation := (rng.Float64()*2.0 - 1.0) * maxVariation
		newTime := float64(jittered[i]) + variation

		// Keep transitions ordered and positive.
		if newTime < float64(previousTime)+1 {
			newTime = float64(previousTime) + 1
		}
		jittered[i] = uint64(newTime)
		previousTime = jittered[i]
	}
	return jittered
}

// Intervals converts absolute transition times to successive interval
// durations in nanoseconds.
func Intervals(transitions []uint64) []float64 {
	intervals := make([]float64, 0, len(transitions))
	last := uint64(0)
	for _, t := range transitions {
		intervals = append(intervals, float64(t-last))
		last = t
	}
	return intervals
}
