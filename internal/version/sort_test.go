package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSort_OrdersSemverAscending(t *testing.T) {
	versions := []string{"2.0.0", "1.10.0", "1.2.0", "2.0.0-rc.1", "1.9.3"}
	Sort(versions)
	assert.Equal(t, []string{"1.2.0", "1.9.3", "1.10.0", "2.0.0-rc.1", "2.0.0"}, versions)
}

func TestSort_MalformedEntriesSortFirst(t *testing.T) {
	versions := []string{"1.0.0", "dev", "0.9.0"}
	Sort(versions)
	assert.Equal(t, "dev", versions[0])
}

func TestLatest(t *testing.T) {
	assert.Equal(t, "2.1.0", Latest([]string{"1.0.0", "2.1.0", "2.1.0-rc.1"}))
	assert.Equal(t, "", Latest(nil))
}

func TestCompare_VPrefixTolerated(t *testing.T) {
	assert.Equal(t, 0, Compare("v1.2.3", "1.2.3"))
	assert.Negative(t, Compare("v1.2.3", "v1.2.4"))
}
