// Package sniff identifies common image formats from magic bytes.
//
// Detection is a prefix match of the input's first bytes against an
// ordered signature table; the first matching signature wins. Input that
// matches no signature yields FormatUnknown rather than an error, and
// input shorter than a signature never matches it.
package sniff

import (
	"bytes"
	"io"
	"os"

	"github.com/FocuswithJustin/Spyglass/core/errors"
)

// HeaderSize is the number of leading bytes needed to identify any
// format in the signature table.
const HeaderSize = 8

// Format is an image format label.
type Format string

const (
	// FormatJPG is a JPEG image (FF D8 FF).
	FormatJPG Format = "JPG"
	// FormatTIFF is a TIFF image, either byte order (II*\0 or MM\0*).
	FormatTIFF Format = "TIFF"
	// FormatBMP is a Windows bitmap (BM).
	FormatBMP Format = "BMP"
	// FormatGIF is a GIF image (GIF87a or GIF89a).
	FormatGIF Format = "GIF"
	// FormatPNG is a PNG image (89 50 4E 47 0D 0A 1A 0A).
	FormatPNG Format = "PNG"
	// FormatUnknown is returned when no signature matches.
	FormatUnknown Format = "unknown"
)

// signature pairs a magic-byte prefix with its format label.
type signature struct {
	prefix []byte
	format Format
}

// signatures is the ordered detection table. First match wins. The
// prefixes are mutually distinct, so ordering never changes the result;
// it is kept stable anyway so table edits stay reviewable.
var signatures = []signature{
	{[]byte{0xFF, 0xD8, 0xFF}, FormatJPG},
	{[]byte{0x49, 0x49, 0x2A, 0x00}, FormatTIFF}, // little-endian "II*\0"
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, FormatTIFF}, // big-endian "MM\0*"
	{[]byte{0x42, 0x4D}, FormatBMP},
	{[]byte("GIF87a"), FormatGIF},
	{[]byte("GIF89a"), FormatGIF},
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, FormatPNG},
}

// Detect returns the format whose signature prefixes data, or
// FormatUnknown. It never fails: short, empty, or nil input is simply
// unknown.
func Detect(data []byte) Format {
	for _, sig := range signatures {
		if len(data) < len(sig.prefix) {
			continue
		}
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.format
		}
	}
	return FormatUnknown
}

// DetectReader reads at most HeaderSize bytes from r and detects the
// format. A short read (including an empty reader) is not an error; the
// bytes that were read are matched as-is.
func DetectReader(r io.Reader) (Format, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return FormatUnknown, errors.NewIO("read header", "", err)
	}
	return Detect(header[:n]), nil
}

// DetectFile opens path and detects the format of its first bytes.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, errors.NewIO("open", path, err)
	}
	defer f.Close()
	return DetectReader(f)
}

// Formats returns the closed set of detectable formats, in table order
// with duplicates removed. FormatUnknown is not included.
func Formats() []Format {
	var out []Format
	seen := make(map[Format]bool)
	for _, sig := range signatures {
		if !seen[sig.format] {
			seen[sig.format] = true
			out = append(out, sig.format)
		}
	}
	return out
}
