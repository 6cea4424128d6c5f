package attendance

import (
	"fmt"
	"strings"
)

// Policy selects how a scan that repeats the previous direction is handled.
type Policy string

const (
	// PolicyReject refuses a scan whose direction matches the last recorded event.
	PolicyReject Policy = "reject"
	// PolicyAutoCorrect flips a repeated direction to the legal one and flags the event.
	PolicyAutoCorrect Policy = "autocorrect"
)

// ParsePolicy normalizes an operator-provided policy token.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(PolicyReject):
		return PolicyReject, nil
	case string(PolicyAutoCorrect):
		return PolicyAutoCorrect, nil
	default:
		return "", fmt.Errorf("unknown sequence policy %q", raw)
	}
}
