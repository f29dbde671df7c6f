package shortterm

import (
	"math"
	"sort"
	"time"

	"github.com/recallkit/recallkit/core"
)

// flashback sampling weight factors.
const (
	flashbackAgeFactor   = 1.7
	flashbackScoreFactor = 1.1
	flashbackScoreCap    = 50.0
)

// SearchOptions carries optional query-side data for a search.
type SearchOptions struct {
	// Modalities are query attachments contributing tags, transcripts and
	// embeddings to the query profile.
	Modalities []core.Modality
	// RoleWeights override the configured role factors for this query.
	RoleWeights map[string]float64
}

// ScoredMemory pairs a memory copy with its computed relevance.
type ScoredMemory struct {
	Memory    core.ShortTermMemory `json:"memory"`
	Relevance float64              `json:"relevance"`
}

// SearchResults is the three-list outcome of a search.
type SearchResults struct {
	TopRelevant     []ScoredMemory `json:"topRelevant"`
	NextRelevant    []ScoredMemory `json:"nextRelevant"`
	RandomFlashback []ScoredMemory `json:"randomFlashback"`
}

type candidate struct {
	mem       *core.ShortTermMemory
	relevance float64
}

// SearchRelevantMemories scores every stored memory against the recent
// messages, greedily selects the top and next lists under the temporal
// diversity constraints, draws weighted random flashbacks from the
// remaining pool and reinforces the relevant picks.
//
// Selection is best effort: when the pool cannot satisfy the diversity
// constraints the lists come back short rather than violating them.
func (e *Engine) SearchRelevantMemories(recentMessages []core.Message, conversationID string, opts SearchOptions) SearchResults {
	start := time.Now()
	queryKeywords := e.ExtractMessageKeywords(recentMessages, opts.RoleWeights)
	if extra := e.modalityQueryKeywords(opts.Modalities); len(extra) > 0 {
		agg := map[string]core.Keyword{}
		core.MergeKeywords(agg, queryKeywords)
		core.MergeKeywords(agg, extra)
		queryKeywords = queryKeywords[:0]
		for _, kw := range agg {
			queryKeywords = append(queryKeywords, kw)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	pool := make([]candidate, 0, len(e.memories))
	for _, mem := range e.memories {
		rel := e.relevance(mem, queryKeywords, opts.Modalities, now)
		if rel < e.cfg.RelevanceThreshold {
			continue
		}
		pool = append(pool, candidate{mem: mem, relevance: rel})
	}
	sortCandidates(pool)

	var results SearchResults
	var selected []*core.ShortTermMemory

	// greedy top/next fill; stops early when the pool is exhausted
	remaining := pool[:0:0]
	for _, cand := range pool {
		if len(results.TopRelevant) >= e.cfg.TopLimit && len(results.NextRelevant) >= e.cfg.NextLimit {
			remaining = append(remaining, cand)
			continue
		}
		if e.excluded(cand.mem, selected, conversationID, now) {
			remaining = append(remaining, cand)
			continue
		}
		scored := ScoredMemory{Memory: cand.mem.Clone(), Relevance: cand.relevance}
		if len(results.TopRelevant) < e.cfg.TopLimit {
			e.reinforce(cand.mem, e.cfg.ReinforceTop)
			scored.Memory.Score = cand.mem.Score
			results.TopRelevant = append(results.TopRelevant, scored)
		} else {
			e.reinforce(cand.mem, e.cfg.ReinforceNext)
			scored.Memory.Score = cand.mem.Score
			results.NextRelevant = append(results.NextRelevant, scored)
		}
		selected = append(selected, cand.mem)
	}

	// weighted random flashbacks from the remaining pool; random picks are
	// not reinforced
	for len(results.RandomFlashback) < e.cfg.RandomLimit {
		pick, ok := e.sampleFlashback(remaining, selected, conversationID, now)
		if !ok {
			break
		}
		results.RandomFlashback = append(results.RandomFlashback, ScoredMemory{Memory: remaining[pick].mem.Clone(), Relevance: remaining[pick].relevance})
		selected = append(selected, remaining[pick].mem)
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}

	e.logger.Debug("short-term search",
		"conversation_id", conversationID,
		"duration", time.Since(start),
		"top", len(results.TopRelevant),
		"next", len(results.NextRelevant),
		"random", len(results.RandomFlashback))
	return results
}

// sortCandidates orders by relevance descending, newest first on ties for
// determinism.
func sortCandidates(pool []candidate) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].relevance != pool[j].relevance {
			return pool[i].relevance > pool[j].relevance
		}
		return pool[i].mem.Timestamp.After(pool[j].mem.Timestamp)
	})
}

// excluded applies the diversity constraints: skip memories of the
// querying conversation younger than the cooldown, and anything within the
// diversity window of an already selected memory (across conversations).
func (e *Engine) excluded(mem *core.ShortTermMemory, selected []*core.ShortTermMemory, conversationID string, now time.Time) bool {
	if mem.ConversationID == conversationID && mem.Age(now) < e.cfg.SameConversationCooldown {
		return true
	}
	for _, sel := range selected {
		if absDuration(mem.Timestamp.Sub(sel.Timestamp)) < e.cfg.DiversityWindow {
			return true
		}
	}
	return false
}

// sampleFlashback draws one index from the eligible remainder using
// cumulative-weight sampling, weight = 1 + ageFactor*1.7 + scoreFactor*1.1.
// The eligible set is re-filtered against all prior picks on every draw.
func (e *Engine) sampleFlashback(remaining []candidate, selected []*core.ShortTermMemory, conversationID string, now time.Time) (int, bool) {
	type weighted struct {
		index  int
		weight float64
	}
	eligible := make([]weighted, 0, len(remaining))
	var total float64
	for i, cand := range remaining {
		if e.excluded(cand.mem, selected, conversationID, now) {
			continue
		}
		age := cand.mem.Age(now)
		ageFactor := math.Max(0, 1-float64(age)/float64(e.cfg.TTL))
		scoreFactor := math.Min(math.Max(cand.mem.Score, 0), flashbackScoreCap) / flashbackScoreCap
		w := 1 + ageFactor*flashbackAgeFactor + scoreFactor*flashbackScoreFactor
		eligible = append(eligible, weighted{index: i, weight: w})
		total += w
	}
	if len(eligible) == 0 || total <= 0 {
		return 0, false
	}
	r := e.rng.Float64() * total
	for _, w := range eligible {
		r -= w.weight
		if r <= 0 {
			return w.index, true
		}
	}
	return eligible[len(eligible)-1].index, true
}

func (e *Engine) reinforce(mem *core.ShortTermMemory, delta float64) {
	mem.Score += delta
	if mem.Score > core.MaxScore {
		mem.Score = core.MaxScore
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
