package version

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare orders two version strings semver-style, tolerating the
// optional "v" prefix and arbitrary suffixes. Strings that do not
// parse sort before everything else so they surface at the top of
// listings instead of vanishing. Used for presentation only; channel
// classification never consults ordering.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// Sort orders version strings ascending in place.
func Sort(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) < 0
	})
}

// Latest returns the highest version string, or "" for an empty slice.
func Latest(versions []string) string {
	if len(versions) == 0 {
		return ""
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}
