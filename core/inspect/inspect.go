// Package inspect produces per-file inspection reports: image format,
// content digest, and build timestamp for executables. Compressed
// inputs are unwrapped by magic before sniffing, the way compressed
// archives are auto-detected elsewhere in the codebase.
package inspect

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/Spyglass/core/cache"
	"github.com/FocuswithJustin/Spyglass/core/errors"
	"github.com/FocuswithJustin/Spyglass/core/events"
	"github.com/FocuswithJustin/Spyglass/core/pestamp"
	"github.com/FocuswithJustin/Spyglass/core/sniff"
	"github.com/FocuswithJustin/Spyglass/internal/logging"
)

// Container identifies a compression container wrapping the payload.
type Container string

const (
	// ContainerNone means the input was not compressed.
	ContainerNone Container = ""
	// ContainerGzip is a gzip stream (1F 8B).
	ContainerGzip Container = "gzip"
	// ContainerXZ is an XZ stream (FD 37 7A 58 5A 00).
	ContainerXZ Container = "xz"
)

// maxUnwrappedSize caps decompressed payloads so a hostile stream
// cannot exhaust memory.
const maxUnwrappedSize = 64 * 1024 * 1024

var xzMagic = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

// DetectContainer detects a compression container from magic bytes.
func DetectContainer(data []byte) Container {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return ContainerGzip
	}
	if len(data) >= len(xzMagic) && bytes.Equal(data[:len(xzMagic)], xzMagic) {
		return ContainerXZ
	}
	return ContainerNone
}

// Report describes one inspected input.
type Report struct {
	ID        string       `json:"id"`
	Path      string       `json:"path,omitempty"`
	Size      int64        `json:"size"`
	Container Container    `json:"container,omitempty"`
	Format    sniff.Format `json:"format"`
	Digest    string       `json:"digest"`
	BuildTime *time.Time   `json:"build_time,omitempty"`
}

// Options configures an Inspector.
type Options struct {
	// MaxCacheEntries bounds the report cache (0 = default).
	MaxCacheEntries int

	// CacheTTL expires cached reports (0 = no expiration).
	CacheTTL time.Duration

	// UnwrapContainers enables gzip/xz unwrapping before sniffing.
	UnwrapContainers bool
}

// DefaultOptions returns the default inspector options.
func DefaultOptions() Options {
	return Options{
		MaxCacheEntries:  256,
		UnwrapContainers: true,
	}
}

// Inspector inspects byte buffers and files. Reports are memoized by
// content digest and published to subscribers of Events.
type Inspector struct {
	opts   Options
	cache  *cache.LRU[string, *Report]
	events events.Publisher[*Report]
}

// New creates an Inspector with the given options.
func New(opts Options) *Inspector {
	maxEntries := opts.MaxCacheEntries
	if maxEntries == 0 {
		maxEntries = cache.DefaultConfig().MaxEntries
	}
	return &Inspector{
		opts: opts,
		cache: cache.NewLRU[string, *Report](cache.Config{
			MaxEntries: maxEntries,
			TTL:        opts.CacheTTL,
		}),
	}
}

// Events returns the publisher that receives every report, cached or
// freshly computed. Subscribe or SubscribeWeak on it to observe
// inspections.
func (in *Inspector) Events() *events.Publisher[*Report] {
	return &in.events
}

// CacheStats reports the memoization cache statistics.
func (in *Inspector) CacheStats() cache.Stats {
	return in.cache.Stats()
}

// InspectBytes inspects an in-memory buffer. name is recorded as the
// report path and may be empty.
func (in *Inspector) InspectBytes(name string, data []byte) (*Report, error) {
	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if cached, ok := in.cache.Get(digest); ok {
		in.events.Publish(cached)
		return cached, nil
	}

	payload := data
	container := ContainerNone
	if in.opts.UnwrapContainers {
		if c := DetectContainer(data); c != ContainerNone {
			unwrapped, err := unwrap(data, c)
			if err != nil {
				return nil, errors.Wrapf(err, "unwrapping %s container", c)
			}
			payload = unwrapped
			container = c
		}
	}

	report := &Report{
		ID:        uuid.New().String(),
		Path:      name,
		Size:      int64(len(data)),
		Container: container,
		Format:    sniff.Detect(payload),
		Digest:    digest,
	}

	if len(payload) >= 2 && payload[0] == 'M' && payload[1] == 'Z' {
		if stamp, err := pestamp.ReadTimestamp(payload); err == nil {
			report.BuildTime = &stamp
		} else {
			logging.Debug("pe_timestamp_unavailable", "path", name, "error", err.Error())
		}
	}

	logging.DetectEvent(name, string(report.Format), "digest", digest)
	in.cache.Put(digest, report)
	in.events.Publish(report)
	return report, nil
}

// Inspect reads and inspects the file at path.
func (in *Inspector) Inspect(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	return in.InspectBytes(path, data)
}

// Scan groups inspections under one run ID for logging and reporting.
type Scan struct {
	ID string

	inspector *Inspector
	failed    int
}

// NewScan starts a scan run tagged with a fresh UUID.
func (in *Inspector) NewScan() *Scan {
	return &Scan{
		ID:        uuid.New().String(),
		inspector: in,
	}
}

// Failed returns the number of paths that could not be inspected
// during Run.
func (s *Scan) Failed() int {
	return s.failed
}

// Run inspects each path, skipping ones that fail and logging the
// failures. It stops early if ctx is cancelled, returning the reports
// collected so far along with the context error.
func (s *Scan) Run(ctx context.Context, paths ...string) ([]*Report, error) {
	ctx = logging.WithRunID(ctx, s.ID)
	logging.ScanEvent("started", s.ID, len(paths))

	var reports []*Report
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			logging.ScanEvent("cancelled", s.ID, len(reports))
			return reports, err
		}
		report, err := s.inspector.Inspect(path)
		if err != nil {
			s.failed++
			logging.InspectError(path, "inspect", err)
			continue
		}
		logging.DebugContext(ctx, "file_inspected", "path", path, "format", report.Format)
		reports = append(reports, report)
	}

	logging.ScanEvent("finished", s.ID, len(reports), "failed", s.failed)
	return reports, nil
}

// unwrap decompresses data according to the detected container, capped
// at maxUnwrappedSize.
func unwrap(data []byte, container Container) ([]byte, error) {
	var r io.Reader
	switch container {
	case ContainerGzip:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.NewParse("gzip stream", "", err.Error())
		}
		defer gz.Close()
		r = gz
	case ContainerXZ:
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.NewParse("xz stream", "", err.Error())
		}
		r = xr
	default:
		return data, nil
	}

	out, err := io.ReadAll(io.LimitReader(r, maxUnwrappedSize+1))
	if err != nil {
		return nil, errors.NewParse(string(container)+" stream", "", err.Error())
	}
	if len(out) > maxUnwrappedSize {
		return nil, errors.NewUnsupported("compressed payload", "larger than the decompression cap")
	}
	return out, nil
}
