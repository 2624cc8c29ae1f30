// Package monkey implements the Monkey filter policy (spec §4.4): a
// per-level bits-per-element allocation that minimizes aggregate
// false-positive rate under a fixed memory budget by placing
// exponentially more bits on shallower fluid levels.
//
// Reference: grounded on the teacher's internal/filter Bloom builder,
// which this package delegates per-level filter construction to; the
// allocation math itself follows the Monkey paper's formula as
// transcribed in spec §4.4.
package monkey

import (
	"fmt"
	"math"

	"github.com/fluidlsm/fluidlsm/internal/filter"
)

// maxClampAttempts bounds the h-reduction loop guarding against the
// clamp described in spec §9 Open Question 4. A smaller h raises the raw
// fpr_opt(1), so the halvings do not bring it under 1; OptimalFPR's
// clamp is what keeps every level's value inside (0, 1).
const maxClampAttempts = 5

// OptimalFPR computes fpr_opt(level) for the given default bits-per-
// element h, size ratio t, and level count l (spec §4.4):
//
//	fpr_opt(level) = T^(T/(T-1)) / T^(L+1-level) * e^(-h*(ln2)^2)
//
// The T^(T/(T-1)) numerator can exceed 1 for small T, L combinations
// (spec §9 Open Question 4); OptimalFPR clamps the result into (0, 1)
// rather than returning a value callers could take a positive log of.
func OptimalFPR(h, t float64, l, level int) float64 {
	numerator := math.Pow(t, t/(t-1))
	denominator := math.Pow(t, float64(l+1-level))
	fpr := numerator / denominator * math.Exp(-h*math.Pow(math.Ln2, 2))
	return clamp01(fpr)
}

func clamp01(fpr float64) float64 {
	const epsilon = 1e-12
	if fpr <= 0 {
		return epsilon
	}
	if fpr >= 1 {
		return 1 - epsilon
	}
	return fpr
}

// BitsPerElement computes bpe(level) = -ln(fpr_opt(level)) / (ln 2)^2
// (spec §3 "Monkey meta").
func BitsPerElement(fprOpt float64) float64 {
	return -math.Log(fprOpt) / math.Pow(math.Ln2, 2)
}

// Policy is the per-level Bloom filter policy: it computes fpr_opt/bpe
// for each fluid level and instantiates a per-level builder seeded with
// that level's bpe (spec §4.4 "Public contract").
type Policy struct {
	h          float64
	sizeRatio  float64
	numLevels  int
	bpe        []float64 // 1-indexed; bpe[0] unused
	fprOpt     []float64 // 1-indexed; fprOpt[0] unused
	defaultBpe float64
}

// NewPolicy builds a Monkey policy for numLevels fluid levels, given a
// default bits-per-element h and size ratio t. While the raw fpr_opt(1)
// is >= 1 (so the clamp in OptimalFPR would trigger), h is halved, at
// most maxClampAttempts times (spec §9 Open Question 4). Halving h
// raises the raw value, so once the loop starts it runs all
// maxClampAttempts halvings and every level whose raw value is still
// >= 1 gets the clamped fpr_opt of 1-1e-12. The reduced h is also the
// policy's default bits-per-element.
func NewPolicy(h, t float64, numLevels int) (*Policy, error) {
	if t <= 1 {
		return nil, fmt.Errorf("monkey: size ratio must be > 1, got %v", t)
	}
	if numLevels < 1 {
		return nil, fmt.Errorf("monkey: numLevels must be >= 1, got %d", numLevels)
	}

	for attempt := 0; attempt < maxClampAttempts; attempt++ {
		raw := math.Pow(t, t/(t-1)) / math.Pow(t, float64(numLevels)) * math.Exp(-h*math.Pow(math.Ln2, 2))
		if raw < 1 {
			break
		}
		h /= 2
	}

	p := &Policy{
		h:          h,
		sizeRatio:  t,
		numLevels:  numLevels,
		bpe:        make([]float64, numLevels+1),
		fprOpt:     make([]float64, numLevels+1),
		defaultBpe: h,
	}
	for l := 1; l <= numLevels; l++ {
		p.fprOpt[l] = OptimalFPR(h, t, numLevels, l)
		p.bpe[l] = BitsPerElement(p.fprOpt[l])
	}
	return p, nil
}

// Name identifies the policy (spec §4.4 "name()").
func (p *Policy) Name() string { return "Monkey" }

// FPROpt returns fpr_opt(level).
func (p *Policy) FPROpt(level int) float64 {
	if level < 1 || level > p.numLevels {
		return 0
	}
	return p.fprOpt[level]
}

// BPE returns bpe(level).
func (p *Policy) BPE(level int) float64 {
	if level < 1 || level > p.numLevels {
		return p.defaultBpe
	}
	return p.bpe[level]
}

// NewBuilderForLevel instantiates a per-level Bloom builder seeded with
// bpe(level), rounded to the nearest integer bits-per-key the filter
// builder's ABI accepts.
func (p *Policy) NewBuilderForLevel(level int) *filter.BloomFilterBuilder {
	return filter.NewBloomFilterBuilder(int(math.Round(p.BPE(level))))
}

// NewDefaultBuilder returns the non-leveled fallback builder used by
// callers that cannot supply a level hint (spec §4.4
// "create_filter/key_may_match ... delegate to the default builder").
func (p *Policy) NewDefaultBuilder() *filter.BloomFilterBuilder {
	return filter.NewBloomFilterBuilder(int(math.Round(p.defaultBpe)))
}

// BuilderContext carries the level hint a table builder may supply when
// requesting a filter builder (spec §4.4 "get_builder_with_context").
type BuilderContext struct {
	// LevelAtCreation is the fluid level the new SST file is being
	// written at, or -1 if unknown.
	LevelAtCreation int
}

// GetBuilderWithContext returns the per-level builder if ctx names a
// level in range, otherwise falls back to the default builder.
func (p *Policy) GetBuilderWithContext(ctx BuilderContext) *filter.BloomFilterBuilder {
	if ctx.LevelAtCreation >= 1 && ctx.LevelAtCreation <= p.numLevels {
		return p.NewBuilderForLevel(ctx.LevelAtCreation)
	}
	return p.NewDefaultBuilder()
}

// GetFilterBitsReader delegates to the default (non-leveled) reader,
// since a reader is constructed from already-serialized filter bytes
// without level context (spec §4.4 "get_filter_bits_reader").
func (p *Policy) GetFilterBitsReader(data []byte) *filter.BloomFilterReader {
	return filter.NewBloomFilterReader(data)
}
