// Command spyglass inspects small binary files.
// It detects image formats from magic bytes, reads linker build
// timestamps out of PE executables, and decodes build dates hidden in
// version metadata.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/Spyglass/core/buildinfo"
	"github.com/FocuswithJustin/Spyglass/core/inspect"
	"github.com/FocuswithJustin/Spyglass/core/pestamp"
	"github.com/FocuswithJustin/Spyglass/core/sniff"
	"github.com/FocuswithJustin/Spyglass/internal/logging"
)

const version = "0.1.0"

// CLI defines the command-line interface for spyglass.
var CLI struct {
	// Global flags
	JSON     bool   `help:"Emit machine-readable JSON output"`
	LogLevel string `name:"log-level" enum:"debug,info,warn,error" default:"info" help:"Log verbosity"`

	Detect     DetectCmd       `cmd:"" help:"Detect image formats from magic bytes"`
	Buildstamp BuildstampGroup `cmd:"" help:"Extract build timestamps from binaries and metadata"`
	Inspect    InspectCmd      `cmd:"" help:"Produce full inspection reports (format, digest, build time)"`
	Version    VersionCmd      `cmd:"" help:"Print version information"`
}

// BuildstampGroup contains the build-timestamp recipes.
type BuildstampGroup struct {
	PE      PECmd      `cmd:"" name:"pe" help:"Read the linker timestamp from a PE executable header"`
	Decode  DecodeCmd  `cmd:"" help:"Decode an auto-generated version number into its build date"`
	Extract ExtractCmd `cmd:"" help:"Extract an embedded timestamp following a marker substring"`
}

// DetectCmd detects image formats for one or more files.
type DetectCmd struct {
	Paths []string `arg:"" help:"Files to detect" type:"existingfile"`
}

func (c *DetectCmd) Run() error {
	type result struct {
		Path   string       `json:"path"`
		Format sniff.Format `json:"format"`
	}

	results := make([]result, 0, len(c.Paths))
	for _, path := range c.Paths {
		format, err := sniff.DetectFile(path)
		if err != nil {
			return err
		}
		results = append(results, result{Path: path, Format: format})
	}

	if CLI.JSON {
		return printJSON(results)
	}
	for _, r := range results {
		fmt.Printf("%s: %s\n", r.Path, r.Format)
	}
	return nil
}

// PECmd reads the build timestamp from a PE executable.
type PECmd struct {
	Path string `arg:"" help:"Path to the executable" type:"existingfile"`
}

func (c *PECmd) Run() error {
	stamp, err := pestamp.ReadFileTimestamp(c.Path)
	if err != nil {
		return err
	}

	if stamp.Unix() == 0 {
		logging.Warn("timestamp field is zero; likely a reproducible build", "path", c.Path)
	}

	if CLI.JSON {
		return printJSON(map[string]string{
			"path":       c.Path,
			"build_time": stamp.Format(time.RFC3339),
		})
	}
	fmt.Printf("%s: built %s\n", c.Path, stamp.Format(time.RFC3339))
	return nil
}

// DecodeCmd decodes a four-part version number into a build date.
type DecodeCmd struct {
	Version string `arg:"" help:"Version as major.minor.build.revision"`
}

func (c *DecodeCmd) Run() error {
	stamp, err := buildinfo.DecodeVersion(c.Version)
	if err != nil {
		return err
	}
	if CLI.JSON {
		return printJSON(map[string]string{
			"version":    c.Version,
			"build_time": stamp.Format(time.RFC3339),
		})
	}
	fmt.Printf("%s: built %s\n", c.Version, stamp.Format(time.RFC3339))
	return nil
}

// ExtractCmd extracts an embedded timestamp from a metadata string.
type ExtractCmd struct {
	Input  string `arg:"" help:"Metadata string to search"`
	Marker string `required:"" help:"Marker substring preceding the timestamp"`
	Layout string `help:"Fixed-width Go time layout; RFC 3339 token when empty"`
}

func (c *ExtractCmd) Run() error {
	var stamp time.Time
	var err error
	if c.Layout == "" {
		stamp, err = buildinfo.ExtractStamp(c.Input, c.Marker)
	} else {
		stamp, err = buildinfo.ExtractStampLayout(c.Input, c.Marker, c.Layout)
	}
	if err != nil {
		return err
	}
	if CLI.JSON {
		return printJSON(map[string]string{"build_time": stamp.Format(time.RFC3339)})
	}
	fmt.Println(stamp.Format(time.RFC3339))
	return nil
}

// InspectCmd produces full inspection reports.
type InspectCmd struct {
	Paths []string `arg:"" help:"Files to inspect" type:"existingfile"`
}

func (c *InspectCmd) Run() error {
	inspector := inspect.New(inspect.DefaultOptions())
	scan := inspector.NewScan()

	reports, err := scan.Run(context.Background(), c.Paths...)
	if err != nil {
		return err
	}

	if CLI.JSON {
		if err := printJSON(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			fmt.Print(renderReport(r))
		}
	}

	if failed := scan.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d files could not be inspected", failed, len(c.Paths))
	}
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("spyglass version %s\n", version)
	return nil
}

// renderReport formats a report for the text output mode.
func renderReport(r *inspect.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", r.Path)
	fmt.Fprintf(&b, "  format:    %s\n", r.Format)
	if r.Container != inspect.ContainerNone {
		fmt.Fprintf(&b, "  container: %s\n", r.Container)
	}
	fmt.Fprintf(&b, "  size:      %d bytes\n", r.Size)
	fmt.Fprintf(&b, "  blake3:    %s\n", r.Digest)
	if r.BuildTime != nil {
		fmt.Fprintf(&b, "  built:     %s\n", r.BuildTime.Format(time.RFC3339))
	}
	return b.String()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseLevel maps the --log-level flag to a logging level.
func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("spyglass"),
		kong.Description("Spyglass - image format and build timestamp inspector"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	logging.InitLogger(parseLevel(CLI.LogLevel), logging.FormatText)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
