// Package version parses release tags and classifies release events
// into promotion channels. Classification is intentionally narrower
// than full semver: the pipeline only needs the three numeric
// components, the series key, and the channel.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrMalformedTag indicates a tag that does not follow the
// MAJOR.MINOR.PATCH[-SUFFIX] form. Callers must treat this as fatal
// before performing any side effect.
var ErrMalformedTag = errors.New("malformed version tag")

// tagPattern accepts an optional "v" prefix, three numeric components,
// and an optional hyphen-separated suffix.
var tagPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z][0-9A-Za-z.-]*))?$`)

// Channel identifies the release channel a version is promoted on.
type Channel string

const (
	// ChannelStable is the production channel: stable index, "latest"
	// docs alias, unconditional series alias updates.
	ChannelStable Channel = "stable"

	// ChannelPrerelease is the candidate channel: test index, "next"
	// docs alias, first-claim-wins series alias creation.
	ChannelPrerelease Channel = "prerelease"
)

// Version is a parsed release tag.
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string // suffix without the leading hyphen, empty if none
}

// Classification is the promotion-relevant reading of one release
// event: the parsed version, the channel, and the major.minor series
// key the docs aliases are maintained under.
type Classification struct {
	Version    Version
	Channel    Channel
	MajorMinor string
}

// Parse parses a release tag into a Version. The leading "v" is
// optional and stripped. Anything that does not match the expected
// shape returns ErrMalformedTag.
func Parse(tag string) (Version, error) {
	m := tagPattern.FindStringSubmatch(tag)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformedTag, tag)
	}

	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: major component of %q: %v", ErrMalformedTag, tag, err)
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, fmt.Errorf("%w: minor component of %q: %v", ErrMalformedTag, tag, err)
	}
	patch, err := strconv.Atoi(m[3])
	if err != nil {
		return Version{}, fmt.Errorf("%w: patch component of %q: %v", ErrMalformedTag, tag, err)
	}

	return Version{
		Major:  major,
		Minor:  minor,
		Patch:  patch,
		Suffix: m[4],
	}, nil
}

// Classify interprets a release event. The event's prerelease flag is
// authoritative: a suffix-bearing tag with the flag unset classifies
// as stable, and a bare tag with the flag set classifies as a
// prerelease. The tag text is parsed only for the version components.
func Classify(tag string, prerelease bool) (Classification, error) {
	v, err := Parse(tag)
	if err != nil {
		return Classification{}, err
	}

	channel := ChannelStable
	if prerelease {
		channel = ChannelPrerelease
	}

	return Classification{
		Version:    v,
		Channel:    channel,
		MajorMinor: v.MajorMinor(),
	}, nil
}

// MajorMinor returns the two-component series key, e.g. "1.4".
func (v Version) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// String renders the canonical form without the "v" prefix.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	return s
}

// TagSuffixed reports whether the tag itself carried a suffix. This is
// informational only; channel selection always follows the release
// event flag.
func (v Version) TagSuffixed() bool {
	return v.Suffix != ""
}
