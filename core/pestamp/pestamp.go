// Package pestamp reads the linker build timestamp embedded in PE
// (Portable Executable) images.
//
// A PE image starts with an MS-DOS stub whose header holds a 4-byte
// little-endian pointer to the PE signature. The COFF file header
// immediately follows the signature and stores TimeDateStamp, a 4-byte
// little-endian count of seconds since 1970-01-01T00:00:00Z written by
// the linker at build time.
//
// Known limitation: reproducible builds do not populate this field with
// a wall-clock time. MSVC's /Brepro and several modern linkers store a
// content hash or zero instead, which decodes to a nonsensical but
// perfectly valid epoch-adjacent timestamp. The field carries no flag
// distinguishing the two cases, so this package returns such values
// as-is rather than guessing.
package pestamp

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"time"

	"github.com/FocuswithJustin/Spyglass/core/errors"
)

// PE image layout constants
const (
	// DOSHeaderSize is the size of the MS-DOS stub header in bytes.
	DOSHeaderSize = 64

	// OffsetDOSMagic is the offset of the "MZ" magic (2 bytes).
	OffsetDOSMagic = 0

	// OffsetPEHeaderPointer is the offset of e_lfanew, the file offset
	// of the PE signature (4 bytes little-endian).
	OffsetPEHeaderPointer = 0x3C

	// SignatureSize is the size of the "PE\0\0" signature in bytes.
	SignatureSize = 4

	// OffsetTimeDateStamp is the offset of the TimeDateStamp field
	// relative to the PE signature (4 bytes little-endian).
	OffsetTimeDateStamp = 8

	// COFFHeaderSize is the size of the COFF file header that follows
	// the PE signature.
	COFFHeaderSize = 20

	// MinHeaderRead is the recommended number of leading bytes to
	// materialize before calling ReadTimestamp; real-world linkers
	// place the PE signature well inside this window.
	MinHeaderRead = 2048

	// formatName is the format label used in parse errors.
	formatName = "PE header"
)

var (
	dosMagic    = []byte{'M', 'Z'}
	peSignature = []byte{'P', 'E', 0x00, 0x00}
)

// HeaderPointer reads e_lfanew after checking the MS-DOS magic. It does
// not check that the pointer lands inside data.
func HeaderPointer(data []byte) (uint32, error) {
	if len(data) < DOSHeaderSize {
		return 0, errors.NewParse(formatName, "", "input shorter than MS-DOS header")
	}
	if data[OffsetDOSMagic] != dosMagic[0] || data[OffsetDOSMagic+1] != dosMagic[1] {
		return 0, errors.NewParse(formatName, "", "missing MZ magic")
	}
	return binary.LittleEndian.Uint32(data[OffsetPEHeaderPointer:]), nil
}

// Validate checks that data holds a well-formed PE header region:
// MS-DOS magic, an in-range header pointer, and the PE signature. It
// does not judge the timestamp value itself.
func Validate(data []byte) error {
	ptr, err := HeaderPointer(data)
	if err != nil {
		return err
	}
	end := uint64(ptr) + SignatureSize + COFFHeaderSize
	if end > uint64(len(data)) {
		return errors.NewParse(formatName, "", "PE header beyond end of input")
	}
	for i, b := range peSignature {
		if data[ptr+uint32(i)] != b {
			return errors.NewParse(formatName, "", "missing PE signature")
		}
	}
	return nil
}

// ReadSeconds returns the raw TimeDateStamp field.
func ReadSeconds(data []byte) (uint32, error) {
	if err := Validate(data); err != nil {
		return 0, err
	}
	ptr, _ := HeaderPointer(data)
	return binary.LittleEndian.Uint32(data[ptr+OffsetTimeDateStamp:]), nil
}

// ReadTimestamp returns the build time recorded in the header as a UTC
// time. Deterministic builds yield a misleading value here; see the
// package documentation.
func ReadTimestamp(data []byte) (time.Time, error) {
	secs, err := ReadSeconds(data)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

// WriteTimestamp stores t into the TimeDateStamp field of an existing
// header in place. The header must validate and t must fit in the
// field's 32-bit unsigned seconds range.
func WriteTimestamp(data []byte, t time.Time) error {
	if err := Validate(data); err != nil {
		return err
	}
	secs := t.Unix()
	if secs < 0 || secs > math.MaxUint32 {
		return errors.NewValidation("timestamp", "outside the 32-bit seconds range")
	}
	ptr, _ := HeaderPointer(data)
	binary.LittleEndian.PutUint32(data[ptr+OffsetTimeDateStamp:], uint32(secs))
	return nil
}

// ReadFileTimestamp reads the build time from the file at path without
// materializing the whole image: one read for the MS-DOS header, one
// positioned read for the signature and COFF header.
func ReadFileTimestamp(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, errors.NewIO("open", path, err)
	}
	defer f.Close()

	head := make([]byte, DOSHeaderSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return time.Time{}, errors.NewParse(formatName, path, "file shorter than MS-DOS header")
	}
	ptr, err := HeaderPointer(head)
	if err != nil {
		var perr *errors.ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return time.Time{}, err
	}

	region := make([]byte, SignatureSize+COFFHeaderSize)
	if _, err := f.ReadAt(region, int64(ptr)); err != nil {
		return time.Time{}, errors.NewParse(formatName, path, "PE header beyond end of file")
	}
	for i, b := range peSignature {
		if region[i] != b {
			return time.Time{}, errors.NewParse(formatName, path, "missing PE signature")
		}
	}
	secs := binary.LittleEndian.Uint32(region[OffsetTimeDateStamp:])
	return time.Unix(int64(secs), 0).UTC(), nil
}

// NewStub builds a minimal synthetic PE header region carrying t. The
// result is DOSHeaderSize+SignatureSize+COFFHeaderSize bytes with the
// PE signature placed immediately after the MS-DOS stub. Useful for
// tests and for exercising round trips.
func NewStub(t time.Time) []byte {
	data := make([]byte, DOSHeaderSize+SignatureSize+COFFHeaderSize)
	copy(data[OffsetDOSMagic:], dosMagic)
	binary.LittleEndian.PutUint32(data[OffsetPEHeaderPointer:], DOSHeaderSize)
	copy(data[DOSHeaderSize:], peSignature)
	// Machine: IMAGE_FILE_MACHINE_AMD64
	binary.LittleEndian.PutUint16(data[DOSHeaderSize+SignatureSize:], 0x8664)
	// An out-of-range time falls back to a zero stamp, matching what a
	// deterministic linker would emit.
	if err := WriteTimestamp(data, t); err != nil {
		binary.LittleEndian.PutUint32(data[DOSHeaderSize+OffsetTimeDateStamp:], 0)
	}
	return data
}
