package pestamp

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FocuswithJustin/Spyglass/core/errors"
)

func TestReadTimestamp_KnownValue(t *testing.T) {
	// A synthetic header with a known seconds count must decode to
	// exactly epoch + that many seconds.
	const secs = 1609459200 // 2021-01-01T00:00:00Z
	data := NewStub(time.Unix(secs, 0))

	got, err := ReadTimestamp(data)
	if err != nil {
		t.Fatalf("ReadTimestamp: %v", err)
	}
	want := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ReadTimestamp = %v; want %v", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	// Whole-second resolution, so encoding then decoding is exact.
	times := []time.Time{
		time.Unix(0, 0),
		time.Unix(1, 0),
		time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 6, 15, 10, 30, 45, 0, time.UTC),
		time.Unix(1<<32-1, 0),
	}

	for _, want := range times {
		data := NewStub(want)
		got, err := ReadTimestamp(data)
		if err != nil {
			t.Fatalf("ReadTimestamp(%v): %v", want, err)
		}
		if !got.Equal(want) {
			t.Errorf("round trip = %v; want %v", got, want)
		}
	}
}

func TestWriteTimestamp_InPlace(t *testing.T) {
	data := NewStub(time.Unix(100, 0))

	want := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := WriteTimestamp(data, want); err != nil {
		t.Fatalf("WriteTimestamp: %v", err)
	}
	got, err := ReadTimestamp(data)
	if err != nil {
		t.Fatalf("ReadTimestamp: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("ReadTimestamp after write = %v; want %v", got, want)
	}
}

func TestWriteTimestamp_OutOfRange(t *testing.T) {
	data := NewStub(time.Unix(0, 0))

	if err := WriteTimestamp(data, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Error("pre-epoch time should be rejected")
	}
	if err := WriteTimestamp(data, time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Error("time beyond the 32-bit range should be rejected")
	}
}

func TestValidate_Malformed(t *testing.T) {
	valid := NewStub(time.Unix(1000, 0))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"shorter than dos header", valid[:32]},
		{"missing mz magic", func() []byte {
			d := append([]byte{}, valid...)
			d[0] = 'X'
			return d
		}()},
		{"pointer beyond input", func() []byte {
			d := append([]byte{}, valid...)
			binary.LittleEndian.PutUint32(d[OffsetPEHeaderPointer:], 1<<20)
			return d
		}()},
		{"missing pe signature", func() []byte {
			d := append([]byte{}, valid...)
			d[DOSHeaderSize] = 'X'
			return d
		}()},
		{"truncated coff header", valid[:DOSHeaderSize+SignatureSize+4]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.data); err == nil {
				t.Error("Validate should fail")
			} else if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("error should unwrap to ErrInvalidInput; got %v", err)
			}
			if _, err := ReadTimestamp(tt.data); err == nil {
				t.Error("ReadTimestamp should fail")
			}
		})
	}

	if err := Validate(valid); err != nil {
		t.Errorf("Validate on well-formed stub: %v", err)
	}
}

func TestReadTimestamp_DeterministicBuild(t *testing.T) {
	// A reproducible build stores zero (or a hash); the decoder cannot
	// tell and must return the decoded value, not an error.
	data := NewStub(time.Unix(0, 0))

	got, err := ReadTimestamp(data)
	if err != nil {
		t.Fatalf("ReadTimestamp: %v", err)
	}
	if !got.Equal(time.Unix(0, 0)) {
		t.Errorf("zero stamp should decode to the epoch; got %v", got)
	}
}

func TestReadSeconds(t *testing.T) {
	const secs = 424242
	data := NewStub(time.Unix(secs, 0))

	got, err := ReadSeconds(data)
	if err != nil {
		t.Fatalf("ReadSeconds: %v", err)
	}
	if got != secs {
		t.Errorf("ReadSeconds = %d; want %d", got, secs)
	}
}

func TestHeaderPointer(t *testing.T) {
	data := NewStub(time.Unix(1, 0))
	ptr, err := HeaderPointer(data)
	if err != nil {
		t.Fatalf("HeaderPointer: %v", err)
	}
	if ptr != DOSHeaderSize {
		t.Errorf("HeaderPointer = %d; want %d", ptr, DOSHeaderSize)
	}
}

func TestReadFileTimestamp(t *testing.T) {
	dir := t.TempDir()
	want := time.Date(2023, 11, 5, 8, 0, 0, 0, time.UTC)

	path := filepath.Join(dir, "app.exe")
	if err := os.WriteFile(path, NewStub(want), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFileTimestamp(path)
	if err != nil {
		t.Fatalf("ReadFileTimestamp: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("ReadFileTimestamp = %v; want %v", got, want)
	}
}

func TestReadFileTimestamp_DisplacedHeader(t *testing.T) {
	// Real linkers place the PE signature after a DOS stub program;
	// the pointer read must follow it wherever it lands.
	dir := t.TempDir()
	want := time.Unix(987654321, 0).UTC()

	const lfanew = 0x200
	data := make([]byte, lfanew+SignatureSize+COFFHeaderSize)
	copy(data, []byte{'M', 'Z'})
	binary.LittleEndian.PutUint32(data[OffsetPEHeaderPointer:], lfanew)
	copy(data[lfanew:], []byte{'P', 'E', 0x00, 0x00})
	binary.LittleEndian.PutUint32(data[lfanew+OffsetTimeDateStamp:], uint32(want.Unix()))

	path := filepath.Join(dir, "displaced.exe")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFileTimestamp(path)
	if err != nil {
		t.Fatalf("ReadFileTimestamp: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("ReadFileTimestamp = %v; want %v", got, want)
	}

	// In-memory path agrees.
	got2, err := ReadTimestamp(data)
	if err != nil {
		t.Fatalf("ReadTimestamp: %v", err)
	}
	if !got2.Equal(want) {
		t.Errorf("ReadTimestamp = %v; want %v", got2, want)
	}
}

func TestReadFileTimestamp_NotPE(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("just some text, long enough to pass the size check padding padding"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFileTimestamp(path); err == nil {
		t.Error("non-PE file should fail to parse")
	}

	short := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(short, []byte{'M', 'Z'}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFileTimestamp(short); err == nil {
		t.Error("truncated file should fail to parse")
	}
}
