// Package datagen produces key/value byte pairs for bulk loading and
// benchmarking (spec §4.6), so the bulk loader and CLI tools never need
// their own random-byte-generation logic.
package datagen

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/fluidlsm/fluidlsm/internal/logging"
)

// Key distribution domain constants (spec §4.6).
const (
	// UniformKeyDomain is the domain size for the uniform distribution:
	// keys are drawn from [0, UniformKeyDomain).
	UniformKeyDomain = 1_000_000_000

	// BimodalKeyDomain is the domain size for the bimodal-gap
	// distribution: keys are drawn from [0, BimodalKeyDomain].
	BimodalKeyDomain = 10_000_000
	// BimodalMiddleLeft is the start of the excluded gap.
	BimodalMiddleLeft = 4_600_000
	// BimodalMiddleRight is the end of the excluded gap.
	BimodalMiddleRight = 5_600_000
)

// Distribution selects a key-number generation strategy.
type Distribution int

const (
	// Uniform draws uniformly over [0, UniformKeyDomain).
	Uniform Distribution = iota
	// BimodalGap draws uniformly over [0, BimodalMiddleLeft) union
	// [BimodalMiddleRight, BimodalKeyDomain], leaving a guaranteed-empty
	// gap so tests can sample keys known to be absent.
	BimodalGap
)

func (d Distribution) String() string {
	switch d {
	case Uniform:
		return "uniform"
	case BimodalGap:
		return "bimodal-gap"
	default:
		return "unknown"
	}
}

// Generator produces key numbers from a chosen distribution using an
// explicit *rand.Rand so callers control determinism via the seed passed
// to New or NewWithLogger.
type Generator struct {
	dist   Distribution
	rng    *rand.Rand
	logger logging.Logger
}

// New returns a Generator for dist, seeded with seed, logging nowhere.
func New(dist Distribution, seed int64) *Generator {
	return NewWithLogger(dist, seed, logging.Discard)
}

// NewWithLogger returns a Generator for dist, seeded with seed, reporting
// its configuration through logger under the [datagen] namespace.
func NewWithLogger(dist Distribution, seed int64, logger logging.Logger) *Generator {
	g := &Generator{dist: dist, rng: rand.New(rand.NewSource(seed)), logger: logging.OrDefault(logger)}
	g.logger.Debugf(logging.NSDatagen+"generator started: distribution=%s seed=%d", dist, seed)
	return g
}

// NextKeyNumber draws the next key number according to the generator's
// distribution.
func (g *Generator) NextKeyNumber() int64 {
	switch g.dist {
	case BimodalGap:
		return g.nextBimodal()
	default:
		return g.rng.Int63n(UniformKeyDomain)
	}
}

func (g *Generator) nextBimodal() int64 {
	leftSpan := int64(BimodalMiddleLeft)
	rightSpan := int64(BimodalKeyDomain) - int64(BimodalMiddleRight) + 1
	span := leftSpan + rightSpan
	n := g.rng.Int63n(span)
	if n < leftSpan {
		return n
	}
	return int64(BimodalMiddleRight) + (n - leftSpan)
}

// GenerateKVPair produces (key_prefix || key_number_as_string,
// value_prefix || 'a'*(size-key_len)) for the next generated key
// number, per spec §4.6. It panics if the resulting key is not
// strictly shorter than size, matching the precondition spec.md states.
func (g *Generator) GenerateKVPair(size int, keyPrefix, valuePrefix string) (key, value []byte) {
	keyNum := g.NextKeyNumber()
	keyStr := keyPrefix + strconv.FormatInt(keyNum, 10)
	if len(keyStr) >= size {
		panic(fmt.Sprintf("datagen: key length %d >= value size %d", len(keyStr), size))
	}
	padLen := size - len(keyStr)
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = 'a'
	}
	val := valuePrefix + string(pad)
	return []byte(keyStr), []byte(val)
}
