package config

import "time"

// DefaultFusionConfig returns the fusion settings used when nothing is configured.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		MinConfidence:     0.7,
		ConfirmBoost:      0.05,
		EnrichBoost:       0.1,
		DefaultConfidence: 0.85,
		CacheTTL:          5 * time.Minute,
		CacheSize:         100,
		ModelHint:         "fast",
	}
}

// DefaultDedupConfig returns the candidate search thresholds used when nothing is configured.
func DefaultDedupConfig() DedupConfig {
	c := DedupConfig{
		ExactThreshold:          0.95,
		TemporalUpdateThreshold: 0.3,
		SemanticMinSimilarity:   0.5,
		SemanticLimit:           5,
		AutoMergeThreshold:      0.8,
		TemporalFactTypesStr:    "position,company,title,role,location,address,status",
	}
	c.TemporalFactTypes = splitList(c.TemporalFactTypesStr)
	return c
}

// DefaultConfirmationConfig returns the confirmation expiries used when nothing is configured.
func DefaultConfirmationConfig() ConfirmationConfig {
	return ConfirmationConfig{
		IdentifierAttributionExpiry: 7 * 24 * time.Hour,
		EntityMergeExpiry:           30 * 24 * time.Hour,
		FactSubjectExpiry:           7 * 24 * time.Hour,
		FactValueExpiry:             7 * 24 * time.Hour,
		ExpireInterval:              15 * time.Minute,
	}
}
