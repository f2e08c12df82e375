package ppo

import (
	"math"

	"github.com/zeu5/rl-ppo/core"
)

// batch is everything Phase A fixes for the epochs of one update. The first
// len(advantages) rows of the trajectory are usable; the remaining rows are
// the bootstrap step and receive zero cotangents.
type batch struct {
	actions     func(i int) []float64
	advantages  []float64
	returns     []float64
	oldLogProbs []float64
	oldValues   []float64
	oldDists    []core.ActionDistribution
}

// lossTerms are the parts of the last evaluated loss.
type lossTerms struct {
	total     float64
	policy    float64
	value     float64
	entropy   float64
	klPenalty float64
	kl        float64
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// policyObjective is the per-row surrogate before negation: the ratio times
// the advantage, and with clipping the smaller of that and the clipped ratio
// times the advantage. The returned slope is d objective / d ratio.
func policyObjective(ratio, adv, epsilon float64) (float64, float64) {
	surr := ratio * adv
	if epsilon <= 0 {
		return surr, adv
	}
	clipped := clamp(ratio, 1-epsilon, 1+epsilon) * adv
	if clipped < surr {
		// only reachable with the ratio outside the clip range, where the clipped branch is flat
		return clipped, 0
	}
	return surr, adv
}

// valueError is the per-row squared error of the value head and its slope
// with respect to the new value. With a threshold the value is also clipped
// around the old value and the larger of the two errors is used.
func valueError(v, old, ret, threshold float64) (float64, float64) {
	e := (v - ret) * (v - ret)
	if threshold <= 0 {
		return e, 2 * (v - ret)
	}
	d := v - old
	vc := old + clamp(d, -threshold, threshold)
	ec := (vc - ret) * (vc - ret)
	if e >= ec {
		return e, 2 * (v - ret)
	}
	if math.Abs(d) < threshold {
		return ec, 2 * (vc - ret)
	}
	return ec, 0
}

// klPenalty is the divergence penalty for a mean divergence and its slope with
// respect to that mean.
func klPenalty(cfg *KLPenaltyConfig, beta, klMean float64) (float64, float64) {
	excess := math.Max(klMean-cfg.CutoffFactor*cfg.Target, 0)
	penalty := cfg.CutoffCoefficient * excess * excess
	slope := 2 * cfg.CutoffCoefficient * excess
	if cfg.adaptive() {
		penalty += beta * klMean
		slope += beta
	}
	return penalty, slope
}

// lossFunc assembles the update loss over the usable rows and records its
// parts in terms.
func (c Config) lossFunc(b *batch, beta float64, terms *lossTerms) core.LossFunc {
	return func(out *core.Output) (float64, *core.Cotangents) {
		rows := len(out.Distributions)
		n := len(b.advantages)
		nf := float64(n)
		cot := &core.Cotangents{LogProb: make([]float64, rows)}
		*terms = lossTerms{}

		objective := 0.0
		for i := 0; i < n; i++ {
			logp := out.Distributions[i].LogProb(b.actions(i))
			ratio := math.Exp(logp - b.oldLogProbs[i])
			obj, slope := policyObjective(ratio, b.advantages[i], c.ClipEpsilon)
			objective += obj
			// d ratio / d logp = ratio
			cot.LogProb[i] = -slope * ratio / nf
		}
		terms.policy = -objective / nf

		kl := 0.0
		for i := 0; i < n; i++ {
			kl += b.oldDists[i].KL(out.Distributions[i])
		}
		terms.kl = kl / nf
		if c.KLPenalty != nil {
			penalty, slope := klPenalty(c.KLPenalty, beta, terms.kl)
			terms.klPenalty = penalty
			cot.KL = make([]float64, rows)
			cot.KLReference = b.oldDists
			for i := 0; i < n; i++ {
				cot.KL[i] = slope / nf
			}
		}

		if out.Values != nil && c.ValueLoss.Weight > 0 {
			cot.Value = make([]float64, rows)
			sum := 0.0
			for i := 0; i < n; i++ {
				e, slope := valueError(out.Values[i], b.oldValues[i], b.returns[i], c.ValueLoss.ClipThreshold)
				sum += e
				cot.Value[i] = c.ValueLoss.Weight * slope / nf
			}
			terms.value = c.ValueLoss.Weight * sum / nf
		}

		if c.EntropyWeight > 0 {
			cot.Entropy = make([]float64, rows)
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += out.Distributions[i].Entropy()
				cot.Entropy[i] = -c.EntropyWeight / nf
			}
			terms.entropy = -c.EntropyWeight * sum / nf
		}

		terms.total = terms.policy + terms.klPenalty + terms.value + terms.entropy
		return terms.total, cot
	}
}
