package manifest

import (
	"strconv"
	"strings"
)

// parseVersionKey extracts the version from a manifests/v{NNNNNNNN}.json
// key; ok=false for the pointer object and anything else.
func parseVersionKey(key, ns string) (uint64, bool) {
	rest, found := strings.CutPrefix(key, ns+"/manifests/v")
	if !found {
		return 0, false
	}
	rest, found = strings.CutSuffix(rest, ".json")
	if !found {
		return 0, false
	}
	v, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
