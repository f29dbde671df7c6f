package shortterm

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/recallkit/recallkit/core"
)

// time penalty constants: asymptotically bounded in [0, maxTimePenalty],
// strictly increasing in the memory's age.
const (
	maxTimePenalty  = 15.0
	decayPerMilli   = 2e-9
	transcriptLimit = 24
)

// ExtractMessageKeywords extracts keywords from every message, scales each
// message's weights by its role factor, sums duplicates across messages,
// drops aggregated entries below the keyword floor and keeps the top
// KeywordLimit by weight descending. Passing nil roleWeights uses the
// configured defaults.
func (e *Engine) ExtractMessageKeywords(messages []core.Message, roleWeights map[string]float64) []core.Keyword {
	if roleWeights == nil {
		roleWeights = e.cfg.RoleWeights
	}
	agg := map[string]core.Keyword{}
	for _, msg := range messages {
		factor, ok := roleWeights[msg.Role]
		if !ok {
			factor = 1.0
		}
		for _, kw := range e.extractor.Extract(msg.Content, e.cfg.KeywordLimit) {
			kw.Weight *= factor
			core.MergeKeywords(agg, []core.Keyword{kw})
		}
	}
	keywords := make([]core.Keyword, 0, len(agg))
	for _, kw := range agg {
		if kw.Weight < e.cfg.KeywordFloor {
			continue
		}
		keywords = append(keywords, kw)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Weight != keywords[j].Weight {
			return keywords[i].Weight > keywords[j].Weight
		}
		return strings.ToLower(keywords[i].Word) < strings.ToLower(keywords[j].Word)
	})
	if len(keywords) > e.cfg.KeywordLimit {
		keywords = keywords[:e.cfg.KeywordLimit]
	}
	return keywords
}

// CalculateRelevance scores one memory against a query:
//
//	relevance = keywordMatch + memory.Score - timePenalty + vectorScore*VectorWeight
//
// keywordMatch sums (queryWeight + memoryWeight) over words present in both
// sets, where the memory side aggregates stored keywords plus keywords
// derived from its modality tags and transcripts (transcript weight scaled
// by TranscriptScale). The time penalty is 15*(1-e^(-age_ms*2e-9)). The
// vector score is the mean cosine similarity over all type-compatible
// comparable embedding pairs, zero when none compare.
func (e *Engine) CalculateRelevance(m core.ShortTermMemory, queryKeywords []core.Keyword, queryModalities []core.Modality, now time.Time) float64 {
	return e.relevance(&m, queryKeywords, queryModalities, now)
}

func (e *Engine) relevance(m *core.ShortTermMemory, queryKeywords []core.Keyword, queryModalities []core.Modality, now time.Time) float64 {
	score := m.Score - e.timePenalty(m, now)
	if len(queryKeywords) > 0 {
		weights := e.memoryKeywordWeights(m)
		for _, kw := range queryKeywords {
			if mw, ok := weights[strings.ToLower(kw.Word)]; ok {
				score += kw.Weight + mw
			}
		}
	}
	if vec, ok := vectorScore(m.Modalities, queryModalities); ok {
		score += vec * e.cfg.VectorWeight
	}
	return score
}

func (e *Engine) timePenalty(m *core.ShortTermMemory, now time.Time) float64 {
	ageMillis := float64(m.Age(now).Milliseconds())
	return maxTimePenalty * (1 - math.Exp(-ageMillis*decayPerMilli))
}

// memoryKeywordWeights aggregates the memory's own keywords with keywords
// derived from its modalities: tags count with unit weight, transcript
// keywords are dampened by TranscriptScale.
func (e *Engine) memoryKeywordWeights(m *core.ShortTermMemory) map[string]float64 {
	weights := make(map[string]float64, len(m.Keywords))
	for _, kw := range m.Keywords {
		weights[strings.ToLower(kw.Word)] += kw.Weight
	}
	for _, mod := range m.Modalities {
		if mod.Features == nil {
			continue
		}
		for _, tag := range mod.Features.Tags {
			weights[strings.ToLower(tag)] += 1.0
		}
		if mod.Features.Transcript != "" {
			for _, kw := range e.extractor.Extract(mod.Features.Transcript, transcriptLimit) {
				weights[strings.ToLower(kw.Word)] += kw.Weight * e.cfg.TranscriptScale
			}
		}
	}
	return weights
}

// vectorScore is the mean cosine similarity over all type-compatible
// comparable embedding pairs between the memory's and the query's
// modalities. The second return value is false when no pair compares.
func vectorScore(memory, query []core.Modality) (float64, bool) {
	var sum float64
	count := 0
	for _, mm := range memory {
		if mm.Features == nil || len(mm.Features.Embedding) == 0 {
			continue
		}
		for _, qm := range query {
			if qm.Features == nil || len(qm.Features.Embedding) == 0 || qm.Type != mm.Type {
				continue
			}
			if sim, ok := core.CosineSimilarity(mm.Features.Embedding, qm.Features.Embedding); ok {
				sum += sim
				count++
			}
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// modalityQueryKeywords derives query-side keywords from attachment tags
// and transcripts, mirroring the memory-side derivation.
func (e *Engine) modalityQueryKeywords(modalities []core.Modality) []core.Keyword {
	var keywords []core.Keyword
	for _, mod := range modalities {
		if mod.Features == nil {
			continue
		}
		for _, tag := range mod.Features.Tags {
			keywords = append(keywords, core.Keyword{Word: tag, Weight: 1.0})
		}
		if mod.Features.Transcript != "" {
			for _, kw := range e.extractor.Extract(mod.Features.Transcript, transcriptLimit) {
				kw.Weight *= e.cfg.TranscriptScale
				keywords = append(keywords, kw)
			}
		}
	}
	return keywords
}
