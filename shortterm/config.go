package shortterm

import "time"

// Config tunes scoring, selection and retention. New seeds the option
// struct with DefaultConfig, so callers override individual fields on it;
// explicit zero values are honored (a zero RelevanceThreshold admits every
// non-negative candidate, a zero DiversityWindow disables the constraint).
type Config struct {
	// RoleWeights scale extracted keyword weights per message role.
	// Defaults: user=2.7, assistant=2.0, system=1.0; unknown roles get 1.0.
	RoleWeights map[string]float64

	// KeywordFloor drops aggregated keywords below this weight. Default 0.8.
	KeywordFloor float64
	// KeywordLimit caps the aggregated keyword set. Default 72.
	KeywordLimit int

	// RelevanceThreshold is the minimum relevance for search candidates.
	// Default 5.
	RelevanceThreshold float64
	// TopLimit / NextLimit / RandomLimit bound the three result lists.
	// Defaults 2 / 1 / 2.
	TopLimit    int
	NextLimit   int
	RandomLimit int

	// SameConversationCooldown excludes memories of the querying
	// conversation younger than this. Default 20m.
	SameConversationCooldown time.Duration
	// DiversityWindow is the minimum timestamp distance between any two
	// selected memories. Default 10m.
	DiversityWindow time.Duration

	// VectorWeight scales the mean embedding similarity. Default 10.
	VectorWeight float64
	// TranscriptScale dampens keywords derived from modality transcripts.
	// Default 0.6.
	TranscriptScale float64

	// TTL is the maximum age considered by cleanup and the flashback age
	// factor. Default one year.
	TTL time.Duration
	// RetentionFloor is the minimum record count cleanup preserves.
	// Default 512.
	RetentionFloor int
	// CleanupInterval gates ShouldCleanup. Default 24h.
	CleanupInterval time.Duration

	// ReinforceTop / ReinforceNext are the search-time score increments.
	// Defaults +5 / +2, capped at core.MaxScore.
	ReinforceTop  float64
	ReinforceNext float64
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		RoleWeights:              map[string]float64{"user": 2.7, "assistant": 2.0, "system": 1.0},
		KeywordFloor:             0.8,
		KeywordLimit:             72,
		RelevanceThreshold:       5,
		TopLimit:                 2,
		NextLimit:                1,
		RandomLimit:              2,
		SameConversationCooldown: 20 * time.Minute,
		DiversityWindow:          10 * time.Minute,
		VectorWeight:             10,
		TranscriptScale:          0.6,
		TTL:                      365 * 24 * time.Hour,
		RetentionFloor:           512,
		CleanupInterval:          24 * time.Hour,
		ReinforceTop:             5,
		ReinforceNext:            2,
	}
}

