// Package unlockcode generates and checks buildathon unlock codes.
//
// A code is PREFIX + 10 uppercase hex characters + "BUILD" + 4 digits taken
// from the generation time in milliseconds, e.g. DUOTHAN3F9A0C12D4BUILD0817.
package unlockcode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPrefix is used when no prefix is configured
const DefaultPrefix = "DUOTHAN"

const (
	marker     = "BUILD"
	randomLen  = 10
	stampLen   = 4
	stampRange = 10000
)

// ErrMalformed is returned by Parse for strings that are not unlock codes
var ErrMalformed = errors.New("malformed unlock code")

// Generator produces unlock codes
type Generator struct {
	prefix string
}

// NewGenerator creates a generator. An empty prefix selects DefaultPrefix.
func NewGenerator(prefix string) *Generator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: prefix}
}

// Prefix returns the configured prefix
func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate returns a fresh code stamped with the generation time
func (g *Generator) Generate(at time.Time) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:randomLen]
	return g.prefix + random + marker + Stamp(at)
}

// Stamp is the time segment a code generated at the given time carries
func Stamp(at time.Time) string {
	return fmt.Sprintf("%04d", at.UnixMilli()%stampRange)
}

// Parts is a parsed unlock code
type Parts struct {
	Prefix string
	Random string
	Stamp  string
}

// Parse splits code into its segments, checking the structure against prefix
func Parse(code, prefix string) (Parts, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(code, prefix) {
		return Parts{}, fmt.Errorf("%w: missing prefix %s", ErrMalformed, prefix)
	}
	rest := code[len(prefix):]
	if len(rest) != randomLen+len(marker)+stampLen {
		return Parts{}, fmt.Errorf("%w: wrong length", ErrMalformed)
	}

	random := rest[:randomLen]
	if rest[randomLen:randomLen+len(marker)] != marker {
		return Parts{}, fmt.Errorf("%w: missing %s marker", ErrMalformed, marker)
	}
	stamp := rest[randomLen+len(marker):]

	for _, r := range random {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'F') {
			return Parts{}, fmt.Errorf("%w: random segment is not uppercase hex", ErrMalformed)
		}
	}
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return Parts{}, fmt.Errorf("%w: time segment is not numeric", ErrMalformed)
		}
	}

	return Parts{Prefix: prefix, Random: random, Stamp: stamp}, nil
}
