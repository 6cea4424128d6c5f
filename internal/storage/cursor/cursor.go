// Package cursor encodes the opaque page tokens used by roster and ledger
// listings.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalid wraps every malformed or stale page token so surfaces can
// answer with an argument error instead of an internal one.
var ErrInvalid = errors.New("invalid page token")

// Learner is the resume point of a roster listing: the last identifier the
// previous page returned.
type Learner struct {
	LastID     string `json:"id"`
	FilterHash string `json:"filter_hash,omitempty"`
}

// Event is the resume point of a ledger listing: the last occurrence in unix
// milliseconds plus the event row id to break ties.
type Event struct {
	LastMillis int64  `json:"ms"`
	LastID     int64  `json:"id"`
	FilterHash string `json:"filter_hash,omitempty"`
}

// EncodeLearner seals a roster cursor into an opaque token.
func EncodeLearner(c Learner) (string, error) {
	return encode(c)
}

// DecodeLearner opens a roster token and checks it against the filter the
// caller is paging with. A token issued under a different filter is stale.
func DecodeLearner(token, currentFilter string) (Learner, error) {
	var c Learner
	if err := decode(token, &c); err != nil {
		return Learner{}, err
	}
	if c.FilterHash != HashFilter(currentFilter) {
		return Learner{}, fmt.Errorf("%w: filter changed since the token was issued", ErrInvalid)
	}
	return c, nil
}

// EncodeEvent seals a ledger cursor into an opaque token.
func EncodeEvent(c Event) (string, error) {
	return encode(c)
}

// DecodeEvent opens a ledger token and checks it against the filter the
// caller is paging with.
func DecodeEvent(token, currentFilter string) (Event, error) {
	var c Event
	if err := decode(token, &c); err != nil {
		return Event{}, err
	}
	if c.FilterHash != HashFilter(currentFilter) {
		return Event{}, fmt.Errorf("%w: filter changed since the token was issued", ErrInvalid)
	}
	return c, nil
}

// HashFilter reduces a filter expression to the short fingerprint stored
// inside tokens. An empty filter hashes to the empty string.
func HashFilter(filter string) string {
	if filter == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(sum[:8])
}

func encode(c any) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

func decode(token string, c any) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalid)
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
