package disk

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sergev/fluxarc/track"
)

// FXPD container layout, all integers little-endian:
//
//	fileHeader
//	for each of Cylinders*Heads track slots, in slot order:
//	    has_track byte (0 or 1)
//	    if present: trackHeader, then rev_count revolutions
//	    (revHeader followed by the packed bitstream), then
//	    weak_count weak region records of 12 bytes each.
//
// The on-disk structs below are written with encoding/binary, so field
// order is the wire order.

type fileHeader struct {
	Magic        [4]byte
	Version      uint16
	Cylinders    uint8
	Heads        uint8
	TrackCount   uint32
	Label        [labelSize]byte
	SourceFormat [sourceFormatSize]byte
	SourceFile   [sourceFileSize]byte
	PreservedAt  uint64 // Unix seconds, 0 when never finalized
	ChecksumType uint8
	Checksum     [32]byte
}

type trackHeader struct {
	Cylinder  uint8
	Head      uint8
	Format    uint8
	Flags     uint8
	RevCount  uint8
	BestRev   uint8
	WeakCount uint16
}

type revHeader struct {
	BitCount uint32
	CRC32    uint32
	Quality  uint8
}

func putString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

func getString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

// Save writes the disk to a file in FXPD format.
func (d *Disk) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := d.WriteTo(file); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return file.Close()
}

// WriteTo serializes the disk to w. Output is buffered so each track is
// flushed as one batch.
func (d *Disk) WriteTo(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	header := fileHeader{
		Magic:        fileMagic,
		Version:      FormatVersion,
		Cylinders:    d.Cylinders,
		Heads:        d.Heads,
		ChecksumType: uint8(d.ChecksumType),
		Checksum:     d.Checksum,
	}
	putString(header.Label[:], d.Label)
	putString(header.SourceFormat[:], d.SourceFormat)
	putString(header.SourceFile[:], d.SourceFile)
	if !d.PreservedAt.IsZero() {
		header.PreservedAt = uint64(d.PreservedAt.Unix())
	}
	for _, t := range d.tracks {
		if t != nil {
			header.TrackCount++
		}
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return err
	}

	for _, t := range d.tracks {
		if t == nil {
			if err := bw.WriteByte(0); err != nil {
				return err
			}
			continue
		}
		if err := bw.WriteByte(1); err != nil {
			return err
		}
		if err := writeTrack(bw, t); err != nil {
			return fmt.Errorf("cylinder %d head %d: %w", t.Cylinder, t.Head, err)
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeTrack(w io.Writer, t *track.Track) error {
	if len(t.Revolutions) > track.MaxRevolutions || t.BestRevolution >= track.MaxRevolutions {
		return fmt.Errorf("%w: %d revolutions", ErrCorrupt, len(t.Revolutions))
	}
	th := trackHeader{
		Cylinder:  t.Cylinder,
		Head:      t.Head,
		Format:    t.Format,
		Flags:     t.Flags,
		RevCount:  uint8(len(t.Revolutions)),
		BestRev:   uint8(t.BestRevolution),
		WeakCount: uint16(len(t.WeakRegions)),
	}
	if err := binary.Write(w, binary.LittleEndian, &th); err != nil {
		return err
	}

	for i := range t.Revolutions {
		rev := &t.Revolutions[i]
		rh := revHeader{
			BitCount: rev.BitCount,
			CRC32:    rev.CRC32,
			Quality:  rev.Quality,
		}
		if err := binary.Write(w, binary.LittleEndian, &rh); err != nil {
			return err
		}
		if _, err := w.Write(rev.Bits); err != nil {
			return err
		}
	}

	for _, region := range t.WeakRegions {
		if err := binary.Write(w, binary.LittleEndian, &region); err != nil {
			return err
		}
	}
	return nil
}

// Load reads an FXPD file.
func Load(filename string) (*Disk, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	d, err := ReadFrom(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return d, nil
}

// ReadFrom parses an FXPD stream. On any error no partial disk is returned.
func ReadFrom(r io.Reader) (*Disk, error) {
	br := bufio.NewReader(r)

	var header fileHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if header.Magic != fileMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, header.Magic[:])
	}
	// Only one version has ever been written; anything else is rejected
	// rather than guessed at.
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version 0x%04x", ErrUnsupportedVersion, header.Version)
	}

	d, err := New(header.Cylinders, header.Heads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	d.Label = getString(header.Label[:])
	d.SourceFormat = getString(header.SourceFormat[:])
	d.SourceFile = getString(header.SourceFile[:])
	d.ChecksumType = ChecksumType(header.ChecksumType)
	d.Checksum = header.Checksum
	if header.PreservedAt != 0 {
		d.PreservedAt = time.Unix(int64(header.PreservedAt), 0).UTC()
	}

	var present uint32
	for slot := 0; slot < len(d.tracks); slot++ {
		hasTrack, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated at track slot %d", ErrCorrupt, slot)
		}
		switch hasTrack {
		case 0:
			continue
		case 1:
		default:
			return nil, fmt.Errorf("%w: track slot %d marker %d", ErrCorrupt, slot, hasTrack)
		}

		t, err := readTrack(br)
		if err != nil {
			return nil, fmt.Errorf("%w: track slot %d: %v", ErrCorrupt, slot, err)
		}
		i, err := d.slot(t.Cylinder, t.Head)
		if err != nil || i != slot {
			return nil, fmt.Errorf("%w: track slot %d claims cylinder %d head %d",
				ErrCorrupt, slot, t.Cylinder, t.Head)
		}
		d.tracks[i] = t
		present++
	}
	if present != header.TrackCount {
		return nil, fmt.Errorf("%w: header promises %d tracks, found %d",
			ErrCorrupt, header.TrackCount, present)
	}
	return d, nil
}

func readTrack(r io.Reader) (*track.Track, error) {
	var th trackHeader
	if err := binary.Read(r, binary.LittleEndian, &th); err != nil {
		return nil, err
	}
	if th.RevCount > track.MaxRevolutions {
		return nil, fmt.Errorf("revolution count %d exceeds limit", th.RevCount)
	}
	if th.WeakCount > track.MaxWeakRegions {
		return nil, fmt.Errorf("weak region count %d exceeds limit", th.WeakCount)
	}
	if th.RevCount > 0 && th.BestRev >= th.RevCount {
		return nil, fmt.Errorf("best revolution %d out of %d", th.BestRev, th.RevCount)
	}

	t := track.New(th.Cylinder, th.Head)
	t.Format = th.Format
	t.Flags = th.Flags
	t.BestRevolution = int(th.BestRev)

	for i := uint8(0); i < th.RevCount; i++ {
		var rh revHeader
		if err := binary.Read(r, binary.LittleEndian, &rh); err != nil {
			return nil, err
		}
		if rh.BitCount == 0 || rh.BitCount > track.MaxTrackBits {
			return nil, fmt.Errorf("revolution %d has %d bits", i, rh.BitCount)
		}
		bits := make([]byte, (rh.BitCount+7)/8)
		if _, err := io.ReadFull(r, bits); err != nil {
			return nil, err
		}
		t.Revolutions = append(t.Revolutions, track.Revolution{
			Bits:     bits,
			BitCount: rh.BitCount,
			Quality:  rh.Quality,
			CRC32:    rh.CRC32,
		})
	}

	for i := uint16(0); i < th.WeakCount; i++ {
		var region track.WeakRegion
		if err := binary.Read(r, binary.LittleEndian, &region); err != nil {
			return nil, err
		}
		t.WeakRegions = append(t.WeakRegions, region)
	}
	return t, nil
}
