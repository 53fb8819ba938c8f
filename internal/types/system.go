package types

// Context tiers order system blocks by volatility. Stable and semi-stable
// blocks sit at the front of the system prompt so providers can cache them;
// dynamic blocks change every turn and are never cached.
const (
	TierStable     = "stable"
	TierSemiStable = "semi_stable"
	TierDynamic    = "dynamic"
)

// SystemBlock is one tier-tagged segment of the assembled system prompt.
type SystemBlock struct {
	Text string `json:"text"`
	Tier string `json:"tier"`
}

// Cacheable reports whether the block's tier qualifies for provider-side
// prompt caching.
func (b SystemBlock) Cacheable() bool {
	return b.Tier == TierStable || b.Tier == TierSemiStable
}
