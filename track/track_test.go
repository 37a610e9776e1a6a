package track

import (
	"errors"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crcOf(bits []byte) uint32 {
	return crc32.ChecksumIEEE(bits)
}

// bitsOf packs a string of '0'/'1' runes MSB-first.
func bitsOf(s string) []byte {
	out := make([]byte, (len(s)+7)/8)
	for i, c := range s {
		if c == '1' {
			out[i/8] |= 1 << (7 - i%8)
		}
	}
	return out
}

func TestAddRevolutionComputesChecksumAndRPM(t *testing.T) {
	tr := New(0, 0)
	err := tr.AddRevolution(bitsOf("1010101010101010"), 16, 200e6, 0)
	require.NoError(t, err)

	rev := tr.Revolutions[0]
	assert.Equal(t, uint32(16), rev.BitCount)
	assert.NotZero(t, rev.CRC32)
	assert.Equal(t, uint8(100), rev.Quality, "unscored pass defaults to 100")
	assert.Equal(t, uint32(30000), rev.RPMx100, "200ms per revolution is 300 RPM")
	assert.NoError(t, tr.Verify())
}

func TestAddRevolutionRejectsBadInput(t *testing.T) {
	tr := New(0, 0)

	err := tr.AddRevolution(nil, 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = tr.AddRevolution([]byte{0xFF}, 16, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument, "1 byte cannot hold 16 bits")

	err = tr.AddRevolution(make([]byte, MaxTrackBits/8+1), MaxTrackBits+1, 0, 0)
	assert.ErrorIs(t, err, ErrTrackTooLong)
}

func TestAddRevolutionCapacity(t *testing.T) {
	tr := New(0, 0)
	for i := 0; i < MaxRevolutions; i++ {
		require.NoError(t, tr.AddRevolutionCopy(bitsOf("10101010"), 8, 0, 0))
	}
	err := tr.AddRevolutionCopy(bitsOf("10101010"), 8, 0, 0)
	assert.ErrorIs(t, err, ErrTooManyRevolutions)
}

func TestAddRevolutionCopyIsolatesBuffer(t *testing.T) {
	tr := New(0, 0)
	buf := bitsOf("11110000")
	require.NoError(t, tr.AddRevolutionCopy(buf, 8, 0, 0))
	buf[0] = 0x00
	assert.NoError(t, tr.Verify(), "caller mutation must not reach the stored pass")
}

func TestFuseMajorityWithOneDivergentBit(t *testing.T) {
	tr := New(3, 1)
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("1010101110101010"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))

	require.NoError(t, tr.Fuse())

	assert.Equal(t, bitsOf("1010101010101010"), tr.Fused)
	assert.Equal(t, uint32(16), tr.FusedBits)
	assert.InDelta(t, 93.75, tr.Confidence, 1e-9, "15 of 16 positions unanimous")
	assert.Equal(t, 0, tr.BestRevolution, "ties resolve to the lowest index")

	require.Len(t, tr.WeakRegions, 1)
	region := tr.WeakRegions[0]
	assert.Equal(t, uint32(7), region.StartBit)
	assert.Equal(t, uint32(1), region.LengthBits)
	assert.Equal(t, uint8(33), region.Confidence, "1 of 3 votes dissented")
	assert.Equal(t, uint16(0b010), region.RevolutionMask, "revolution 1 disagreed")
}

func TestFuseIdenticalRevolutions(t *testing.T) {
	tr := New(0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.AddRevolutionCopy(bitsOf("1100110011001100"), 16, 0, 0))
	}
	require.NoError(t, tr.Fuse())
	assert.Equal(t, 100.0, tr.Confidence)
	assert.Empty(t, tr.WeakRegions)
}

func TestFuseTiesVoteZero(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("11111111"), 8, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("00000000"), 8, 0, 0))
	require.NoError(t, tr.Fuse())

	assert.Equal(t, bitsOf("00000000"), tr.Fused)
	assert.Equal(t, 0.0, tr.Confidence)
	assert.Equal(t, 1, tr.BestRevolution, "revolution of zeros matches the consensus")

	// A dead split is maximally unstable, so it outscores the single
	// dissenter of the three-revolution case.
	require.Len(t, tr.WeakRegions, 1)
	assert.Equal(t, uint8(50), tr.WeakRegions[0].Confidence)
}

func TestFuseUsesShortestRevolution(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("1111000011110000"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("11110000"), 8, 0, 0))
	require.NoError(t, tr.Fuse())
	assert.Equal(t, uint32(8), tr.FusedBits)
	assert.Equal(t, 100.0, tr.Confidence)
}

func TestFuseIsIdempotent(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("1010101110101010"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))

	require.NoError(t, tr.Fuse())
	first := *tr
	firstRegions := append([]WeakRegion(nil), tr.WeakRegions...)

	require.NoError(t, tr.Fuse())
	assert.Equal(t, first.Confidence, tr.Confidence)
	assert.Equal(t, first.Fused, tr.Fused)
	assert.Equal(t, firstRegions, tr.WeakRegions)
}

func TestFuseRequiresRevolutions(t *testing.T) {
	tr := New(0, 0)
	assert.ErrorIs(t, tr.Fuse(), ErrNoRevolutions)
}

func TestGetBitFusedAndFallback(t *testing.T) {
	tr := New(0, 0)
	_, _, err := tr.GetBit(0)
	assert.ErrorIs(t, err, ErrNoRevolutions)

	require.NoError(t, tr.AddRevolution(bitsOf("10110000"), 8, 0, 90))

	// Before fusion the best revolution answers with its quality score.
	bit, conf, err := tr.GetBit(2)
	require.NoError(t, err)
	assert.Equal(t, byte(1), bit)
	assert.Equal(t, 90.0, conf)

	_, _, err = tr.GetBit(8)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, tr.Fuse())
	bit, conf, err = tr.GetBit(2)
	require.NoError(t, err)
	assert.Equal(t, byte(1), bit)
	assert.Equal(t, 100.0, conf, "single revolution is unanimous with itself")
}

func TestConsensusRequiresFusion(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("1100110011001100"), 16, 0, 0))

	_, _, _, err := tr.Consensus()
	assert.ErrorIs(t, err, ErrNotFused)

	require.NoError(t, tr.Fuse())
	bits, count, conf, err := tr.Consensus()
	require.NoError(t, err)
	assert.Equal(t, bitsOf("1100110011001100"), bits)
	assert.Equal(t, uint32(16), count)
	assert.Equal(t, 100.0, conf)
}

func TestGetBitPerBitConfidence(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("1010101110101010"), 16, 0, 0))
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))
	require.NoError(t, tr.Fuse())

	bit, conf, err := tr.GetBit(0)
	require.NoError(t, err)
	assert.Equal(t, byte(1), bit)
	assert.Equal(t, 100.0, conf, "unanimous position")

	bit, conf, err = tr.GetBit(7)
	require.NoError(t, err)
	assert.Equal(t, byte(0), bit)
	assert.InDelta(t, 200.0/3, conf, 1e-9, "2 of 3 revolutions agree")
}

func TestGetBitPastFusedRangeFallsBack(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("1111000011001100"), 16, 0, 75))
	require.NoError(t, tr.AddRevolution(bitsOf("11110000"), 8, 0, 75))
	require.NoError(t, tr.Fuse())
	require.Equal(t, uint32(8), tr.FusedBits)
	require.Equal(t, 0, tr.BestRevolution)

	bit, conf, err := tr.GetBit(9)
	require.NoError(t, err)
	assert.Equal(t, byte(1), bit, "bit 9 of the best revolution")
	assert.Equal(t, 75.0, conf, "fallback reports the revolution quality")
}

func TestWithSHA256(t *testing.T) {
	tr := New(0, 0, WithSHA256())
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))

	rev := tr.Revolutions[0]
	require.True(t, rev.HasSHA256)
	assert.NotEqual(t, [32]byte{}, rev.SHA256)
	require.NoError(t, tr.Verify())

	// Corruption with a recomputed CRC is still caught by the digest.
	tr.Revolutions[0].Bits[0] = 0x00
	tr.Revolutions[0].CRC32 = crcOf(tr.Revolutions[0].Bits)
	assert.ErrorIs(t, tr.Verify(), ErrChecksumMismatch)
}

func TestVerifyDetectsSingleBitFlip(t *testing.T) {
	tr := New(0, 0)
	require.NoError(t, tr.AddRevolution(bitsOf("1010101010101010"), 16, 0, 0))
	require.NoError(t, tr.Verify())

	tr.Revolutions[0].Bits[1] ^= 0x01
	err := tr.Verify()
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Contains(t, err.Error(), "revolution 0")
}

func TestMarkWeakValidation(t *testing.T) {
	tr := New(0, 0)
	err := tr.MarkWeak(WeakRegion{StartBit: 10, LengthBits: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	for i := 0; i < MaxWeakRegions; i++ {
		require.NoError(t, tr.MarkWeak(WeakRegion{StartBit: uint32(i), LengthBits: 1}))
	}
	err = tr.MarkWeak(WeakRegion{StartBit: 9999, LengthBits: 1})
	assert.ErrorIs(t, err, ErrTooManyWeakRegions)
}

func TestAddTimingGrowsUnbounded(t *testing.T) {
	tr := New(0, 0)
	const n = 100000
	for i := 0; i < n; i++ {
		tr.AddTiming(TimingDelta{BitPosition: uint32(i), DeltaNs: 50})
	}
	require.Len(t, tr.TimingDeltas, n)
	assert.Equal(t, uint32(n-1), tr.TimingDeltas[n-1].BitPosition)
}

func TestCompareBitstreams(t *testing.T) {
	a := bitsOf("1010101010101010")
	b := bitsOf("1010001010101011")

	diffs, first := CompareBitstreams(a, b, 16)
	assert.Equal(t, 2, diffs)
	assert.Equal(t, 4, first)

	diffs, first = CompareBitstreams(a, a, 16)
	assert.Equal(t, 0, diffs)
	assert.Equal(t, -1, first)

	// Only the requested prefix counts.
	diffs, _ = CompareBitstreams(a, b, 8)
	assert.Equal(t, 1, diffs)
}

func TestErrorsAreDistinct(t *testing.T) {
	for _, err := range []error{
		ErrNoRevolutions, ErrTooManyRevolutions, ErrTooManyWeakRegions,
		ErrTrackTooLong, ErrInvalidArgument, ErrChecksumMismatch,
	} {
		assert.False(t, errors.Is(ErrNotFused, err))
	}
}
