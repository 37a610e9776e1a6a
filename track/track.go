// Package track stores multiple decoded revolutions of one disk track and
// fuses them into a single consensus bitstream. Bit positions where the
// revolutions disagree are recorded as weak regions, preserving the evidence
// of unstable or deliberately fuzzy media.
package track

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// MaxRevolutions bounds how many revolutions one track can hold.
	MaxRevolutions = 16
	// MaxWeakRegions bounds the weak region list per track.
	MaxWeakRegions = 256
	// MaxTrackBits bounds a single revolution bitstream. An ED track is
	// around 400k bits; this leaves room for oversampled captures.
	MaxTrackBits = 1 << 21
)

// Weak region bit patterns.
const (
	PatternRandom     uint8 = 0 // revolutions disagree with no bias
	PatternMostlyZero uint8 = 1 // consensus leans to zero bits
	PatternMostlyOne  uint8 = 2 // consensus leans to one bits
)

var (
	ErrNoRevolutions      = errors.New("track has no revolutions")
	ErrTooManyRevolutions = errors.New("revolution limit reached")
	ErrTooManyWeakRegions = errors.New("weak region limit reached")
	ErrTrackTooLong       = errors.New("bitstream exceeds track limit")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrNotFused           = errors.New("track has not been fused")
)

// Revolution is one decoded pass over the track.
type Revolution struct {
	Bits       []byte // MSB-first packed bitstream
	BitCount   uint32
	IndexBit   uint32 // bit position of the index pulse, 0 if unknown
	DurationNs uint64
	RPMx100    uint32 // rotation speed, hundredths of RPM
	Quality    uint8  // decoder quality score, 0..100
	ErrorCount uint16 // decode errors the caller attributes to this pass
	WeakBits   uint32 // bits the decoder itself flagged as unreliable
	CRC32      uint32 // IEEE CRC32 of the packed bytes, set at insert
	SHA256     [32]byte
	HasSHA256  bool
}

// WeakRegion is a run of bit positions where revolutions disagree.
type WeakRegion struct {
	StartBit   uint32
	LengthBits uint32
	// Confidence that the region is genuinely unstable rather than a
	// one-off read error: the share of votes dissenting from the
	// consensus, 0..100. A near-tie scores close to 50, a single
	// outlier revolution scores low.
	Confidence     uint8
	Pattern        uint8  // PatternRandom, PatternMostlyZero, PatternMostlyOne
	RevolutionMask uint16 // bit i set when revolution i disagreed here
}

// TimingDelta annotates a bit position whose flux timing deviated from the
// recovered clock, for formats that hide data in cell length.
type TimingDelta struct {
	BitPosition uint32
	DeltaNs     int16
	Flags       uint8
	Revolution  uint8
}

// Track holds the revolutions, fusion result and annotations for one
// cylinder/head position.
type Track struct {
	Cylinder uint8
	Head     uint8
	Format   uint8
	Flags    uint8

	Revolutions    []Revolution
	BestRevolution int

	WeakRegions  []WeakRegion
	TimingDeltas []TimingDelta

	// Fusion output, valid after Fuse.
	Fused      []byte
	FusedBits  uint32
	Confidence float64 // share of unanimous bit positions, percent

	hashSHA256 bool
}

// Option configures a new track.
type Option func(*Track)

// WithSHA256 additionally digests every inserted revolution with SHA-256,
// for archives that want a stronger integrity proof than CRC32.
func WithSHA256() Option {
	return func(t *Track) { t.hashSHA256 = true }
}

// New returns an empty track for the given position.
func New(cylinder, head uint8, opts ...Option) *Track {
	t := &Track{Cylinder: cylinder, Head: head}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func byteLen(bitCount uint32) int {
	return int((bitCount + 7) / 8)
}

func getBit(bits []byte, pos uint32) byte {
	return (bits[pos/8] >> (7 - pos%8)) & 1
}

// AddRevolution appends a decoded revolution, taking ownership of bits. The
// CRC32 is computed at insert so later corruption is detectable; quality
// defaults to 100 when the decoder did not score the pass.
func (t *Track) AddRevolution(bits []byte, bitCount uint32, durationNs uint64, quality uint8) error {
	if bitCount == 0 || len(bits) < byteLen(bitCount) {
		return fmt.Errorf("%w: %d bits in %d bytes", ErrInvalidArgument, bitCount, len(bits))
	}
	if bitCount > MaxTrackBits {
		return fmt.Errorf("%w: %d bits", ErrTrackTooLong, bitCount)
	}
	if len(t.Revolutions) >= MaxRevolutions {
		return fmt.Errorf("%w: %d", ErrTooManyRevolutions, MaxRevolutions)
	}

	if quality == 0 {
		quality = 100
	}
	rev := Revolution{
		Bits:       bits[:byteLen(bitCount)],
		BitCount:   bitCount,
		DurationNs: durationNs,
		Quality:    quality,
		CRC32:      crc32.ChecksumIEEE(bits[:byteLen(bitCount)]),
	}
	if durationNs > 0 {
		rev.RPMx100 = uint32(60e9 * 100 / float64(durationNs))
	}
	if t.hashSHA256 {
		rev.SHA256 = sha256.Sum256(rev.Bits)
		rev.HasSHA256 = true
	}
	t.Revolutions = append(t.Revolutions, rev)
	return nil
}

// AddRevolutionCopy is AddRevolution with a private copy of the bitstream,
// for callers that reuse their buffer.
func (t *Track) AddRevolutionCopy(bits []byte, bitCount uint32, durationNs uint64, quality uint8) error {
	if bitCount == 0 || len(bits) < byteLen(bitCount) {
		return fmt.Errorf("%w: %d bits in %d bytes", ErrInvalidArgument, bitCount, len(bits))
	}
	owned := make([]byte, byteLen(bitCount))
	copy(owned, bits)
	return t.AddRevolution(owned, bitCount, durationNs, quality)
}

// MarkWeak records a weak region by hand, for callers with out-of-band
// knowledge such as a protection scheme database. Fuse rebuilds the region
// list from vote evidence and discards manual marks.
func (t *Track) MarkWeak(region WeakRegion) error {
	if region.LengthBits == 0 {
		return fmt.Errorf("%w: zero-length weak region", ErrInvalidArgument)
	}
	if len(t.WeakRegions) >= MaxWeakRegions {
		return fmt.Errorf("%w: %d", ErrTooManyWeakRegions, MaxWeakRegions)
	}
	t.WeakRegions = append(t.WeakRegions, region)
	return nil
}

// AddTiming records one timing deviation annotation. The log is append-only
// and grows without bound; protection schemes can hide data in the timing of
// every cell on a track.
func (t *Track) AddTiming(delta TimingDelta) {
	t.TimingDeltas = append(t.TimingDeltas, delta)
}

// Fuse combines all revolutions into a consensus bitstream by per-bit
// majority vote over the common prefix (the shortest revolution). Ties vote
// zero. Fusing again replaces the previous result and weak region list, so
// the operation is idempotent.
func (t *Track) Fuse() error {
	if len(t.Revolutions) == 0 {
		return ErrNoRevolutions
	}

	minBits := t.Revolutions[0].BitCount
	for _, rev := range t.Revolutions[1:] {
		if rev.BitCount < minBits {
			minBits = rev.BitCount
		}
	}

	nRevs := len(t.Revolutions)
	fused := make([]byte, byteLen(minBits))
	matches := make([]uint32, nRevs)
	var unanimous uint32

	// Per-bit state for weak region construction.
	inRegion := false
	var regionStart uint32
	var regionVotesAgree, regionVotesTotal uint64
	var regionOnes, regionZeros uint32
	var regionMask uint16
	t.WeakRegions = t.WeakRegions[:0]

	closeRegion := func(end uint32) {
		if !inRegion {
			return
		}
		inRegion = false
		if len(t.WeakRegions) >= MaxWeakRegions {
			return
		}
		region := WeakRegion{
			StartBit:       regionStart,
			LengthBits:     end - regionStart,
			Confidence:     uint8((regionVotesTotal - regionVotesAgree) * 100 / regionVotesTotal),
			RevolutionMask: regionMask,
		}
		switch {
		case regionZeros*4 >= (regionZeros+regionOnes)*3:
			region.Pattern = PatternMostlyZero
		case regionOnes*4 >= (regionZeros+regionOnes)*3:
			region.Pattern = PatternMostlyOne
		default:
			region.Pattern = PatternRandom
		}
		t.WeakRegions = append(t.WeakRegions, region)
	}

	for pos := uint32(0); pos < minBits; pos++ {
		ones := 0
		for _, rev := range t.Revolutions {
			if getBit(rev.Bits, pos) == 1 {
				ones++
			}
		}
		var bit byte
		if ones*2 > nRevs {
			bit = 1
		}
		if bit == 1 {
			fused[pos/8] |= 1 << (7 - pos%8)
		}

		agree := nRevs - ones
		if bit == 1 {
			agree = ones
		}
		for i, rev := range t.Revolutions {
			if getBit(rev.Bits, pos) == bit {
				matches[i]++
			}
		}

		if agree == nRevs {
			unanimous++
			closeRegion(pos)
			continue
		}

		if !inRegion {
			inRegion = true
			regionStart = pos
			regionVotesAgree, regionVotesTotal = 0, 0
			regionOnes, regionZeros = 0, 0
			regionMask = 0
		}
		regionVotesAgree += uint64(agree)
		regionVotesTotal += uint64(nRevs)
		if bit == 1 {
			regionOnes++
		} else {
			regionZeros++
		}
		for i, rev := range t.Revolutions {
			if i < 16 && getBit(rev.Bits, pos) != bit {
				regionMask |= 1 << i
			}
		}
	}
	closeRegion(minBits)

	best := 0
	for i := 1; i < nRevs; i++ {
		if matches[i] > matches[best] {
			best = i
		}
	}

	t.Fused = fused
	t.FusedBits = minBits
	t.Confidence = float64(unanimous) * 100 / float64(minBits)
	t.BestRevolution = best
	return nil
}

// Consensus returns the fused bitstream, its bit count and the track-level
// confidence. Returns ErrNotFused before Fuse has run. Callers that can work
// from a single revolution instead should use GetBit, which falls back.
func (t *Track) Consensus() ([]byte, uint32, float64, error) {
	if t.Fused == nil {
		return nil, 0, 0, ErrNotFused
	}
	return t.Fused, t.FusedBits, t.Confidence, nil
}

// GetBit returns the bit at pos together with a confidence percentage. After
// fusion the consensus stream answers, with confidence the share of
// revolutions that voted for the returned value; before fusion, or past the
// fused range, the best revolution answers with its quality score.
func (t *Track) GetBit(pos uint32) (byte, float64, error) {
	if t.Fused != nil && pos < t.FusedBits {
		bit := getBit(t.Fused, pos)
		agree := 0
		for i := range t.Revolutions {
			if pos < t.Revolutions[i].BitCount && getBit(t.Revolutions[i].Bits, pos) == bit {
				agree++
			}
		}
		return bit, float64(agree) * 100 / float64(len(t.Revolutions)), nil
	}
	if len(t.Revolutions) == 0 {
		return 0, 0, ErrNoRevolutions
	}
	rev := &t.Revolutions[t.BestRevolution]
	if pos >= rev.BitCount {
		return 0, 0, fmt.Errorf("%w: bit %d past end of revolution %d (%d bits)",
			ErrInvalidArgument, pos, t.BestRevolution, rev.BitCount)
	}
	return getBit(rev.Bits, pos), float64(rev.Quality), nil
}

// Verify recomputes every revolution checksum against the value stored at
// insert time.
func (t *Track) Verify() error {
	for i := range t.Revolutions {
		rev := &t.Revolutions[i]
		if crc32.ChecksumIEEE(rev.Bits) != rev.CRC32 {
			return fmt.Errorf("revolution %d: %w", i, ErrChecksumMismatch)
		}
		if rev.HasSHA256 && sha256.Sum256(rev.Bits) != rev.SHA256 {
			return fmt.Errorf("revolution %d: %w", i, ErrChecksumMismatch)
		}
	}
	return nil
}

// CompareBitstreams counts differing bit positions over the first bitCount
// bits of two packed streams. The second result is the first differing
// position, or -1 when the prefixes match.
func CompareBitstreams(a, b []byte, bitCount uint32) (int, int) {
	diffs := 0
	first := -1
	for pos := uint32(0); pos < bitCount; pos++ {
		if getBit(a, pos) != getBit(b, pos) {
			diffs++
			if first < 0 {
				first = int(pos)
			}
		}
	}
	return diffs, first
}
