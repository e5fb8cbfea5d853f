// Package clockid provides the two small ambient providers the pipeline
// stamps every event with: a UTC clock and a process-unique event id.
package clockid

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current instant in timezone-aware UTC.
type Clock interface {
	Now() time.Time
}

// IDProvider returns a non-empty, process-unique identifier.
type IDProvider interface {
	NewID() string
}

// SystemClock is the reference Clock realisation: wall-clock time normalised
// to UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UUIDProvider is the reference IDProvider realisation: a 128-bit random
// value rendered as unpunctuated hex, matching spec.md's "128-bit random hex
// is the reference realisation".
type UUIDProvider struct{}

func (UUIDProvider) NewID() string {
	id := uuid.New()
	return hexNoDashes(id)
}

func hexNoDashes(id uuid.UUID) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 32)
	for i, b := range id {
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0x0f]
	}
	return string(buf)
}
