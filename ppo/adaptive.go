package ppo

// minBeta keeps a shrinking coefficient away from zero so that it can grow again.
const minBeta = 1e-16

// adaptBeta returns the coefficient for the next update given the divergence
// realised by this one. Inside [target/tolerance, target*tolerance] it is unchanged.
func adaptBeta(cfg *KLPenaltyConfig, beta, kl float64) float64 {
	switch {
	case kl < cfg.Target/cfg.ToleranceFactor:
		beta /= cfg.BetaScalingFactor
		if beta < minBeta {
			beta = minBeta
		}
	case kl > cfg.Target*cfg.ToleranceFactor:
		beta *= cfg.BetaScalingFactor
	}
	return beta
}
