// Package buildinfo recovers build dates from version metadata strings.
//
// Two recipes are provided. DecodeVersion understands auto-generated
// four-part version numbers where the build number counts days since
// 2000-01-01 and the revision counts half-seconds since local midnight.
// ExtractStamp locates an explicitly embedded timestamp after a marker
// substring, for metadata that carries the build date verbatim.
package buildinfo

import (
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/Spyglass/core/errors"
)

// versionBase is the day zero of auto-generated build numbers. The
// scheme counts in local time, so the base is local too.
func versionBase() time.Time {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.Local)
}

// DecodeVersion decodes "major.minor.build.revision" into the build
// date the versioning scheme encodes: versionBase plus build days plus
// revision*2 seconds. All four fields must be non-negative integers.
func DecodeVersion(version string) (time.Time, error) {
	parts := strings.Split(version, ".")
	if len(parts) != 4 {
		return time.Time{}, errors.NewParse("version string", "", "expected 4 dot-separated fields")
	}

	fields := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return time.Time{}, errors.NewParse("version string", "", "field "+strconv.Itoa(i+1)+" is not a non-negative integer")
		}
		fields[i] = n
	}

	build, revision := fields[2], fields[3]
	return DecodeBuildRevision(build, revision), nil
}

// DecodeBuildRevision maps a raw (build, revision) pair to its build
// date: build days after 2000-01-01, revision half-seconds after local
// midnight.
func DecodeBuildRevision(build, revision int) time.Time {
	return versionBase().
		AddDate(0, 0, build).
		Add(time.Duration(revision) * 2 * time.Second)
}

// ExtractStamp finds marker in s and parses the first following
// whitespace-delimited token as an RFC 3339 timestamp.
func ExtractStamp(s, marker string) (time.Time, error) {
	rest, err := sliceAfter(s, marker)
	if err != nil {
		return time.Time{}, err
	}
	token := rest
	if fields := strings.Fields(rest); len(fields) > 0 {
		token = fields[0]
	}
	t, err := time.Parse(time.RFC3339, token)
	if err != nil {
		return time.Time{}, errors.NewParse("build stamp", "", "not an RFC 3339 timestamp after marker")
	}
	return t, nil
}

// ExtractStampLayout is ExtractStamp for fixed-width layouts such as
// "20060102150405": exactly len(layout) characters after the marker are
// parsed. Layouts with variable-width fields belong in ExtractStamp.
func ExtractStampLayout(s, marker, layout string) (time.Time, error) {
	rest, err := sliceAfter(s, marker)
	if err != nil {
		return time.Time{}, err
	}
	if len(rest) < len(layout) {
		return time.Time{}, errors.NewParse("build stamp", "", "input shorter than layout after marker")
	}
	t, err := time.Parse(layout, rest[:len(layout)])
	if err != nil {
		return time.Time{}, errors.NewParse("build stamp", "", "stamp does not match layout")
	}
	return t, nil
}

func sliceAfter(s, marker string) (string, error) {
	if marker == "" {
		return "", errors.NewValidation("marker", "must not be empty")
	}
	_, rest, found := strings.Cut(s, marker)
	if !found {
		return "", errors.NewParse("build stamp", "", "marker not found")
	}
	return strings.TrimLeft(rest, " \t"), nil
}
