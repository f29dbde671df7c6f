package shortterm

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallkit/recallkit/core"
	"github.com/recallkit/recallkit/keyword"
	"github.com/recallkit/recallkit/logging"
	"github.com/recallkit/recallkit/modality"
)

// Options configures an Engine.
type Options struct {
	// Config is pre-seeded with DefaultConfig; mutate fields to override.
	Config     Config
	Extractor  core.KeywordExtractor
	Normalizer core.ModalityNormalizer
	Logger     logging.Logger
	// Clock overrides time.Now, primarily for tests.
	Clock func() time.Time
	// Rand overrides the flashback sampling source, primarily for tests.
	Rand *rand.Rand
}

// Engine holds the short-term memories of a single conversation store.
// All exported methods are safe for concurrent use; calls are serialized by
// an internal mutex but no ordering across concurrent callers is promised.
type Engine struct {
	mu          sync.Mutex
	cfg         Config
	extractor   core.KeywordExtractor
	normalizer  core.ModalityNormalizer
	logger      logging.Logger
	now         func() time.Time
	rng         *rand.Rand
	memories    []*core.ShortTermMemory
	lastCleanup time.Time
}

// New constructs an engine with defaults for any unset option.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{Config: DefaultConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Extractor == nil {
		opts.Extractor = keyword.NewExtractor()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = modality.NewNormalizer()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:        opts.Config,
		extractor:  opts.Extractor,
		normalizer: opts.Normalizer,
		logger:     opts.Logger,
		now:        opts.Clock,
		rng:        opts.Rand,
	}
}

// LoadRecords hydrates raw persisted records into typed memories. Malformed
// entries (non-object payload, missing text, unparsable timestamp) are
// dropped with a logged warning; loading never fails wholesale on bad data.
// Returns the number of records loaded.
func (e *Engine) LoadRecords(raw []map[string]any) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := 0
	for i, record := range raw {
		mem, err := e.hydrate(record)
		if err != nil {
			e.logger.Warn("dropping malformed short-term record", "index", i, "error", err.Error())
			continue
		}
		e.memories = append(e.memories, mem)
		loaded++
	}
	return loaded
}

func (e *Engine) hydrate(record map[string]any) (*core.ShortTermMemory, error) {
	text, _ := record["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("missing text")
	}
	ts, err := parseTimestamp(record["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	mem := &core.ShortTermMemory{
		Text:      text,
		Timestamp: ts,
	}
	if id, ok := record["id"].(string); ok {
		mem.ID = id
	}
	if convID, ok := record["conversationId"].(string); ok {
		mem.ConversationID = convID
	}
	if score, ok := record["score"].(float64); ok {
		mem.Score = clampScore(score)
	}
	if rawKWs, ok := record["keywords"].([]any); ok {
		for _, item := range rawKWs {
			kw, ok := item.(map[string]any)
			if !ok {
				continue
			}
			word, _ := kw["word"].(string)
			if word == "" {
				continue
			}
			weight, _ := kw["weight"].(float64)
			mem.Keywords = append(mem.Keywords, core.Keyword{Word: word, Weight: weight})
		}
	}
	if rawMods, ok := record["modalities"].([]any); ok {
		maps := make([]map[string]any, 0, len(rawMods))
		for _, item := range rawMods {
			if m, ok := item.(map[string]any); ok {
				maps = append(maps, m)
			}
		}
		mem.Modalities = e.normalizer.Normalize(maps)
	}
	return mem, nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("unparsable %q", ts)
	case float64:
		// millisecond epoch from legacy numeric producers
		return time.UnixMilli(int64(ts)), nil
	case time.Time:
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("missing or unsupported value %v", v)
}

func clampScore(score float64) float64 {
	if score > core.MaxScore {
		return core.MaxScore
	}
	if score < 0 {
		return score // negative scores are legal, only the cap is enforced
	}
	return score
}

// AddResult is the structured outcome of AddMemory.
type AddResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AddOptions carries optional attachment data for AddMemory.
type AddOptions struct {
	Modalities []core.Modality
}

// AddMemory renders the messages into a "speaker: content" transcript and
// stores it as a new memory with zero score. Returns a structured failure
// when messages are empty or the rendered transcript is blank.
func (e *Engine) AddMemory(messages []core.Message, conversationID string, opts AddOptions) AddResult {
	if len(messages) == 0 {
		return AddResult{Success: false, Error: core.ErrEmptyMessages.Error()}
	}
	transcript := renderTranscript(messages)
	if transcript == "" {
		return AddResult{Success: false, Error: "rendered transcript is blank"}
	}

	mem := &core.ShortTermMemory{
		ID:             uuid.NewString(),
		Text:           transcript,
		Keywords:       e.ExtractMessageKeywords(messages, nil),
		Score:          0,
		Timestamp:      e.now(),
		ConversationID: conversationID,
		Modalities:     core.CloneModalities(opts.Modalities),
	}

	e.mu.Lock()
	e.memories = append(e.memories, mem)
	e.mu.Unlock()

	e.logger.Debug("short-term memory added", "conversation_id", conversationID, "keywords", len(mem.Keywords))
	return AddResult{Success: true, ID: mem.ID}
}

// renderTranscript joins non-blank messages as "speaker: content" lines.
func renderTranscript(messages []core.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		speaker := msg.Role
		if speaker == "" {
			speaker = core.RoleUser
		}
		lines = append(lines, speaker+": "+content)
	}
	return strings.Join(lines, "\n")
}

// DeleteMemories removes memories whose text matches the pattern and
// returns the removed count. A pattern wrapped in slashes ("/re/") or one
// that contains regexp metacharacters and compiles is treated as a regular
// expression; anything else is a literal substring match.
func (e *Engine) DeleteMemories(pattern string) int {
	if pattern == "" {
		return 0
	}
	match := matcherFor(pattern)

	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.memories[:0]
	removed := 0
	for _, mem := range e.memories {
		if match(mem.Text) {
			removed++
			continue
		}
		kept = append(kept, mem)
	}
	e.memories = kept
	if removed > 0 {
		e.logger.Info("short-term memories deleted", "pattern", pattern, "removed", removed)
	}
	return removed
}

var regexMeta = `\.+*?()|[]{}^$`

func matcherFor(pattern string) func(string) bool {
	if len(pattern) > 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		if re, err := regexp.Compile(pattern[1 : len(pattern)-1]); err == nil {
			return re.MatchString
		}
	}
	if strings.ContainsAny(pattern, regexMeta) {
		if re, err := regexp.Compile(pattern); err == nil {
			return re.MatchString
		}
	}
	return func(text string) bool { return strings.Contains(text, pattern) }
}

// CleanupResult reports what a cleanup pass did.
type CleanupResult struct {
	Kept    int `json:"kept"`
	Removed int `json:"removed"`
}

// ShouldCleanup reports whether the cleanup interval has elapsed since the
// last pass. Callers gate Cleanup with it; Cleanup itself always runs.
func (e *Engine) ShouldCleanup(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCleanup.IsZero() || now.Sub(e.lastCleanup) >= e.cfg.CleanupInterval
}

// Cleanup partitions memories into passing (younger than TTL and baseline
// relevance >= -5) and failing; when the passing set is below the retention
// floor it is topped up from the failing set, best relevance first, until
// the floor is reached or the pool is exhausted.
func (e *Engine) Cleanup(now time.Time) CleanupResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCleanup = now

	var passing, failing []*core.ShortTermMemory
	for _, mem := range e.memories {
		rel := e.relevance(mem, nil, nil, now)
		if mem.Age(now) < e.cfg.TTL && rel >= -5 {
			passing = append(passing, mem)
		} else {
			failing = append(failing, mem)
		}
	}

	if len(passing) < e.cfg.RetentionFloor && len(failing) > 0 {
		sort.SliceStable(failing, func(i, j int) bool {
			return e.relevance(failing[i], nil, nil, now) > e.relevance(failing[j], nil, nil, now)
		})
		missing := e.cfg.RetentionFloor - len(passing)
		if missing > len(failing) {
			missing = len(failing)
		}
		passing = append(passing, failing[:missing]...)
	}

	removed := len(e.memories) - len(passing)
	e.memories = passing
	if removed > 0 {
		e.logger.Info("short-term cleanup", "kept", len(passing), "removed", removed)
	}
	return CleanupResult{Kept: len(passing), Removed: removed}
}

// Stats is a read-only aggregation over the stored memories.
type Stats struct {
	Count         int            `json:"count"`
	AverageScore  float64        `json:"averageScore"`
	Oldest        time.Time      `json:"oldest,omitzero"`
	Newest        time.Time      `json:"newest,omitzero"`
	Conversations map[string]int `json:"conversations,omitempty"`
}

// Stats returns aggregate counts over the stored memories.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := Stats{Count: len(e.memories), Conversations: map[string]int{}}
	if len(e.memories) == 0 {
		return stats
	}
	var total float64
	stats.Oldest = e.memories[0].Timestamp
	stats.Newest = e.memories[0].Timestamp
	for _, mem := range e.memories {
		total += mem.Score
		stats.Conversations[mem.ConversationID]++
		if mem.Timestamp.Before(stats.Oldest) {
			stats.Oldest = mem.Timestamp
		}
		if mem.Timestamp.After(stats.Newest) {
			stats.Newest = mem.Timestamp
		}
	}
	stats.AverageScore = total / float64(len(e.memories))
	return stats
}

// MostFrequentConversation returns the conversation id with the most
// memories and its count; empty when the store is empty.
func (e *Engine) MostFrequentConversation() (string, int) {
	stats := e.Stats()
	var best string
	bestCount := 0
	for id, count := range stats.Conversations {
		if count > bestCount || (count == bestCount && id < best) {
			best, bestCount = id, count
		}
	}
	return best, bestCount
}

// Count returns the number of stored memories.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.memories)
}

// Snapshot returns deep copies of all memories for persistence.
func (e *Engine) Snapshot() []core.ShortTermMemory {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make([]core.ShortTermMemory, len(e.memories))
	for i, mem := range e.memories {
		snapshot[i] = mem.Clone()
	}
	return snapshot
}
