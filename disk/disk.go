// Package disk assembles preserved tracks into a whole-disk image and
// serializes it to the FXPD container format. Tracks are allocated lazily so
// partial dumps and single-sided media need no placeholder data.
package disk

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/sergev/fluxarc/track"
)

const (
	// FormatVersion is the container version this package writes.
	FormatVersion uint16 = 0x0100

	labelSize        = 64
	sourceFormatSize = 16
	sourceFileSize   = 256
)

var fileMagic = [4]byte{'F', 'X', 'P', 'D'}

// ChecksumType identifies the whole-disk integrity scheme.
type ChecksumType uint8

const (
	ChecksumNone ChecksumType = iota
	ChecksumCRC32
	ChecksumSHA256
)

var (
	ErrBadGeometry        = errors.New("invalid disk geometry")
	ErrTrackRange         = errors.New("track position outside disk geometry")
	ErrBadMagic           = errors.New("not an FXPD container")
	ErrUnsupportedVersion = errors.New("container version not supported")
	ErrCorrupt            = errors.New("container is corrupt")
	ErrChecksumMismatch   = errors.New("disk checksum mismatch")
)

// Disk is a whole-disk preservation image. Track allocation is safe for
// concurrent use; the stored tracks themselves are not.
type Disk struct {
	mu sync.Mutex

	Cylinders uint8
	Heads     uint8

	Label        string
	SourceFormat string
	SourceFile   string
	PreservedAt  time.Time

	ChecksumType ChecksumType
	Checksum     [32]byte

	tracks []*track.Track // sparse, indexed cylinder*heads+head
}

// New creates an empty disk. Heads beyond 2 have no physical counterpart on
// floppy media and are rejected.
func New(cylinders, heads uint8) (*Disk, error) {
	if cylinders == 0 || heads == 0 {
		return nil, fmt.Errorf("%w: %d cylinders, %d heads", ErrBadGeometry, cylinders, heads)
	}
	if heads > 2 {
		return nil, fmt.Errorf("%w: %d heads", ErrBadGeometry, heads)
	}
	return &Disk{
		Cylinders: cylinders,
		Heads:     heads,
		tracks:    make([]*track.Track, int(cylinders)*int(heads)),
	}, nil
}

func (d *Disk) slot(cylinder, head uint8) (int, error) {
	if cylinder >= d.Cylinders || head >= d.Heads {
		return 0, fmt.Errorf("%w: cylinder %d head %d on %dx%d disk",
			ErrTrackRange, cylinder, head, d.Cylinders, d.Heads)
	}
	return int(cylinder)*int(d.Heads) + int(head), nil
}

// Track returns the track at the given position, creating it on first use.
func (d *Disk) Track(cylinder, head uint8) (*track.Track, error) {
	i, err := d.slot(cylinder, head)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tracks[i] == nil {
		d.tracks[i] = track.New(cylinder, head)
	}
	return d.tracks[i], nil
}

// TrackIfPresent returns the track at the given position without creating
// it, or nil.
func (d *Disk) TrackIfPresent(cylinder, head uint8) *track.Track {
	i, err := d.slot(cylinder, head)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks[i]
}

// TrackCount returns how many tracks hold data.
func (d *Disk) TrackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tracks {
		if t != nil {
			n++
		}
	}
	return n
}

// checksumInput concatenates the first-revolution CRC32 of every present
// track, little-endian, in slot order. Empty slots contribute nothing, so
// the digest is stable for partial dumps.
func (d *Disk) checksumInput() []byte {
	var buf []byte
	var crc [4]byte
	for _, t := range d.tracks {
		if t == nil || len(t.Revolutions) == 0 {
			continue
		}
		binary.LittleEndian.PutUint32(crc[:], t.Revolutions[0].CRC32)
		buf = append(buf, crc[:]...)
	}
	return buf
}

// Finalize computes the whole-disk checksum with the requested scheme and
// stamps the preservation time. Call it after the last track is added and
// before Save.
func (d *Disk) Finalize(ctype ChecksumType) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Checksum = [32]byte{}
	switch ctype {
	case ChecksumNone:
	case ChecksumCRC32:
		binary.LittleEndian.PutUint32(d.Checksum[:4], crc32.ChecksumIEEE(d.checksumInput()))
	case ChecksumSHA256:
		d.Checksum = sha256.Sum256(d.checksumInput())
	default:
		return fmt.Errorf("%w: checksum type %d", ErrUnsupportedVersion, ctype)
	}
	d.ChecksumType = ctype
	if d.PreservedAt.IsZero() {
		d.PreservedAt = time.Now().UTC()
	}
	return nil
}

// Verify recomputes the whole-disk checksum and every per-revolution CRC.
func (d *Disk) Verify() error {
	d.mu.Lock()
	tracks := make([]*track.Track, len(d.tracks))
	copy(tracks, d.tracks)
	ctype := d.ChecksumType
	want := d.Checksum
	input := d.checksumInput()
	d.mu.Unlock()

	switch ctype {
	case ChecksumNone:
	case ChecksumCRC32:
		if crc32.ChecksumIEEE(input) != binary.LittleEndian.Uint32(want[:4]) {
			return ErrChecksumMismatch
		}
	case ChecksumSHA256:
		if sha256.Sum256(input) != want {
			return ErrChecksumMismatch
		}
	default:
		return fmt.Errorf("%w: checksum type %d", ErrUnsupportedVersion, ctype)
	}

	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Verify(); err != nil {
			return fmt.Errorf("cylinder %d head %d: %w", t.Cylinder, t.Head, err)
		}
	}
	return nil
}
