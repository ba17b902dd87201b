package measurement

import (
	"fmt"
	"strings"
)

// GatePolicy selects which status rows the availability gate consults.
type GatePolicy string

const (
	// GatePolicyGlobal reads the latest status row regardless of source.
	GatePolicyGlobal GatePolicy = "global"
	// GatePolicyPerSource reads the latest status row of the source itself.
	GatePolicyPerSource GatePolicy = "per_source"
)

// ParseGatePolicy validates a configured policy name.
func ParseGatePolicy(value string) (GatePolicy, error) {
	switch GatePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", GatePolicyGlobal:
		return GatePolicyGlobal, nil
	case GatePolicyPerSource, "per-source":
		return GatePolicyPerSource, nil
	default:
		return "", fmt.Errorf("measurement: unknown gate policy %q", value)
	}
}

// MatchesSuffix reports whether a store name belongs to the catalog.
func MatchesSuffix(name, suffix string) bool {
	return name != "" && strings.HasSuffix(name, suffix)
}
