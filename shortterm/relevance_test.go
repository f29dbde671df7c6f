package shortterm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/recallkit/recallkit/core"
)

func TestExtractMessageKeywordsRoleWeighting(t *testing.T) {
	e := newTestEngine()
	kws := e.ExtractMessageKeywords([]core.Message{
		{Role: "user", Content: "birthday"},
		{Role: "assistant", Content: "birthday"},
		{Role: "system", Content: "birthday"},
	}, nil)
	// 1.0*2.7 + 1.0*2.0 + 1.0*1.0 summed across messages
	assert.Len(t, kws, 1)
	assert.Equal(t, "birthday", kws[0].Word)
	assert.InDelta(t, 5.7, kws[0].Weight, 1e-9)
}

func TestExtractMessageKeywordsFloorAndLimit(t *testing.T) {
	e := newTestEngine(func(o *Options) {
		cfg := DefaultConfig()
		cfg.RoleWeights = map[string]float64{"system": 0.5}
		o.Config = cfg
	})
	// system factor 0.5 puts single-occurrence words at 0.5 < floor 0.8
	kws := e.ExtractMessageKeywords([]core.Message{{Role: "system", Content: "quiet whisper"}}, nil)
	assert.Empty(t, kws)

	e2 := newTestEngine(func(o *Options) {
		cfg := DefaultConfig()
		cfg.KeywordLimit = 2
		o.Config = cfg
	})
	kws = e2.ExtractMessageKeywords([]core.Message{{Role: "user", Content: "alpha beta gamma delta"}}, nil)
	assert.Len(t, kws, 2)
}

func TestExtractMessageKeywordsZeroFloorKeepsWeakTerms(t *testing.T) {
	e := newTestEngine(func(o *Options) {
		o.Config.KeywordFloor = 0
		o.Config.RoleWeights = map[string]float64{"system": 0.5}
	})
	kws := e.ExtractMessageKeywords([]core.Message{{Role: "system", Content: "quiet whisper"}}, nil)
	assert.Len(t, kws, 2, "an explicit zero floor keeps sub-default weights")
}

func TestTimePenaltyMonotonicAndBounded(t *testing.T) {
	e := newTestEngine()
	mem := core.ShortTermMemory{Text: "m"}
	prev := -1.0
	for _, age := range []time.Duration{0, time.Minute, time.Hour, 24 * time.Hour, 30 * 24 * time.Hour, 365 * 24 * time.Hour, 50 * 365 * 24 * time.Hour} {
		mem.Timestamp = testNow.Add(-age)
		penalty := -e.CalculateRelevance(mem, nil, nil, testNow) // score 0, no keywords: relevance = -penalty
		assert.GreaterOrEqual(t, penalty, 0.0)
		assert.LessOrEqual(t, penalty, maxTimePenalty)
		assert.GreaterOrEqual(t, penalty, prev, "penalty must not decrease with age")
		prev = penalty
	}
}

func TestCalculateRelevanceKeywordMatch(t *testing.T) {
	e := newTestEngine()
	mem := core.ShortTermMemory{
		Text:      "user: my birthday party",
		Timestamp: testNow,
		Keywords:  []core.Keyword{{Word: "Birthday", Weight: 3.0}},
	}
	query := []core.Keyword{{Word: "birthday", Weight: 2.7}, {Word: "unrelated", Weight: 9.0}}
	rel := e.CalculateRelevance(mem, query, nil, testNow)
	// match is case-insensitive and sums query + memory weight; the
	// unmatched query keyword contributes nothing
	assert.InDelta(t, 2.7+3.0, rel, 1e-6)
}

func TestCalculateRelevanceIncludesScoreAndTags(t *testing.T) {
	e := newTestEngine()
	mem := core.ShortTermMemory{
		Text:      "user: look",
		Timestamp: testNow,
		Score:     10,
		Modalities: []core.Modality{{
			Type:     "image",
			Features: &core.ModalityFeatures{Tags: []string{"cat"}},
		}},
	}
	rel := e.CalculateRelevance(mem, []core.Keyword{{Word: "cat", Weight: 2.0}}, nil, testNow)
	// tag contributes unit memory weight: 2.0 + 1.0, plus score 10
	assert.InDelta(t, 13.0, rel, 1e-6)
}

func TestCalculateRelevanceTranscriptScaled(t *testing.T) {
	e := newTestEngine()
	mem := core.ShortTermMemory{
		Text:      "user: voice note",
		Timestamp: testNow,
		Modalities: []core.Modality{{
			Type:     "audio",
			Features: &core.ModalityFeatures{Transcript: "birthday"},
		}},
	}
	rel := e.CalculateRelevance(mem, []core.Keyword{{Word: "birthday", Weight: 2.0}}, nil, testNow)
	// transcript keyword weight 1.0 scaled by 0.6
	assert.InDelta(t, 2.0+0.6, rel, 1e-6)
}

func TestCalculateRelevanceVectorScore(t *testing.T) {
	e := newTestEngine()
	embedding := []float64{1, 0, 0}
	mem := core.ShortTermMemory{
		Text:       "user: picture",
		Timestamp:  testNow,
		Modalities: []core.Modality{{Type: "image", Features: &core.ModalityFeatures{Embedding: embedding}}},
	}
	query := []core.Modality{{Type: "image", Features: &core.ModalityFeatures{Embedding: embedding}}}
	rel := e.CalculateRelevance(mem, nil, query, testNow)
	// identical embeddings: cosine 1.0 * default vector weight 10
	assert.InDelta(t, 10.0, rel, 1e-6)

	// type-incompatible pairs do not compare
	query[0].Type = "audio"
	rel = e.CalculateRelevance(mem, nil, query, testNow)
	assert.InDelta(t, 0.0, rel, 1e-6)
}
