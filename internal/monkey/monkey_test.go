package monkey

import (
	"math"
	"testing"
)

func TestOptimalFPRMonotonicallyTighterAtShallowerLevels(t *testing.T) {
	// S5: h=5, T=10, L=4 => fpr_opt(1) < fpr_opt(2) < fpr_opt(3) < fpr_opt(4),
	// each in (0,1), bpe strictly positive.
	p, err := NewPolicy(5, 10, 4)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	prev := -1.0
	for l := 1; l <= 4; l++ {
		fpr := p.FPROpt(l)
		if fpr <= 0 || fpr >= 1 {
			t.Errorf("fpr_opt(%d) = %v, want in (0,1)", l, fpr)
		}
		if fpr <= prev {
			t.Errorf("fpr_opt(%d) = %v, want strictly greater than fpr_opt(%d) = %v", l, fpr, l-1, prev)
		}
		prev = fpr
		if bpe := p.BPE(l); bpe <= 0 {
			t.Errorf("bpe(%d) = %v, want > 0", l, bpe)
		}
	}
}

func TestFPRSumBound(t *testing.T) {
	h, tRatio, l := 5.0, 10.0, 6
	p, err := NewPolicy(h, tRatio, l)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	var sum float64
	for lvl := 1; lvl <= l; lvl++ {
		sum += p.FPROpt(lvl)
	}
	bound := float64(l) * math.Exp(-h*math.Pow(math.Ln2, 2))
	if sum > bound {
		t.Errorf("sum fpr_opt = %v, want <= %v", sum, bound)
	}
}

func TestClampHandlesSmallTAndL(t *testing.T) {
	// Small T, L combinations can push the raw formula above 1 before
	// clamping/h-reduction (spec §9 Open Question 4).
	p, err := NewPolicy(1, 2, 1)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	fpr := p.FPROpt(1)
	if fpr <= 0 || fpr >= 1 {
		t.Errorf("fpr_opt(1) = %v, want in (0,1) after clamp/h-reduction", fpr)
	}
}

func TestNewPolicyRejectsInvalidParams(t *testing.T) {
	if _, err := NewPolicy(5, 1, 4); err == nil {
		t.Error("NewPolicy should reject size ratio <= 1")
	}
	if _, err := NewPolicy(5, 10, 0); err == nil {
		t.Error("NewPolicy should reject numLevels < 1")
	}
}
