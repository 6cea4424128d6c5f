package attendance

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDirectionInvalid indicates a direction token other than IN or OUT.
var ErrDirectionInvalid = errors.New("direction must be IN or OUT")

// Direction is the movement a ledger event records.
type Direction string

const (
	// DirectionIn records an arrival.
	DirectionIn Direction = "IN"
	// DirectionOut records a departure.
	DirectionOut Direction = "OUT"
)

// ParseDirection normalizes a caller-provided direction token.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(DirectionIn):
		return DirectionIn, nil
	case string(DirectionOut):
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrDirectionInvalid, raw)
	}
}

// Opposite returns the direction a well-formed ledger alternates to.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}
