package longterm

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/recallkit/recallkit/core"
	"github.com/recallkit/recallkit/logging"
	"github.com/recallkit/recallkit/modality"
	"github.com/recallkit/recallkit/trigger"
)

// DefaultRandomLimit bounds the serendipity picks of a search.
const DefaultRandomLimit = 2

// Options configures an Engine.
type Options struct {
	Sandbox    *trigger.Sandbox
	Normalizer core.ModalityNormalizer
	Logger     logging.Logger
	// RandomLimit caps the unweighted random picks per search. Default 2.
	RandomLimit int
	// Clock overrides time.Now, primarily for tests.
	Clock func() time.Time
	// Rand overrides the shuffle source, primarily for tests.
	Rand *rand.Rand
}

// Engine holds the long-term memories of a single conversation store.
// Records keep insertion order; Name is the primary key and inserting a
// colliding name replaces the record in place. All exported methods are
// safe for concurrent use.
type Engine struct {
	mu          sync.Mutex
	sandbox     *trigger.Sandbox
	normalizer  core.ModalityNormalizer
	logger      logging.Logger
	randomLimit int
	now         func() time.Time
	rng         *rand.Rand
	records     []*core.LongTermMemory
	index       map[string]*core.LongTermMemory
}

// New constructs an engine with defaults for any unset option.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{RandomLimit: DefaultRandomLimit}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Sandbox == nil {
		opts.Sandbox = trigger.NewSandbox()
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
		sandbox:     opts.Sandbox,
		normalizer:  opts.Normalizer,
		logger:      opts.Logger,
		randomLimit: opts.RandomLimit,
		now:         opts.Clock,
		rng:         opts.Rand,
	}
}

// Result is the structured outcome of a mutation.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// AddParams are the fields of a new long-term memory. Name, Prompt,
// Trigger and CreatedContext are required.
type AddParams struct {
	Name           string
	Prompt         string
	Trigger        string
	CreatedContext string
	Modalities     []core.Modality
}

// AddMemory validates the trigger against the canned smoke-test context
// and upserts the record by name with CreatedAt set to now. An existing
// record with the same name is replaced wholesale.
func (e *Engine) AddMemory(params AddParams) Result {
	switch {
	case strings.TrimSpace(params.Name) == "":
		return failure("name is required")
	case strings.TrimSpace(params.Prompt) == "":
		return failure("prompt is required")
	case strings.TrimSpace(params.Trigger) == "":
		return failure("trigger is required")
	case strings.TrimSpace(params.CreatedContext) == "":
		return failure("createdContext is required")
	}
	if v := e.sandbox.TestTrigger(params.Trigger); !v.Valid {
		return failure("invalid trigger: %s", v.Error)
	}

	mem := &core.LongTermMemory{
		Name:           params.Name,
		Prompt:         params.Prompt,
		Trigger:        params.Trigger,
		CreatedAt:      e.now(),
		CreatedContext: params.CreatedContext,
		Modalities:     core.CloneModalities(params.Modalities),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.index[mem.Name]; ok {
		for i, r := range e.records {
			if r == existing {
				e.records[i] = mem
				break
			}
		}
	} else {
		e.records = append(e.records, mem)
	}
	if e.index == nil {
		e.index = map[string]*core.LongTermMemory{}
	}
	e.index[mem.Name] = mem
	e.logger.Info("long-term memory stored", "name", mem.Name)
	return Result{Success: true}
}

// UpdateParams are the optional fields of an update; nil fields are left
// untouched.
type UpdateParams struct {
	Prompt         *string
	Trigger        *string
	UpdatedContext *string
	Modalities     []core.Modality
}

// UpdateMemory merges the non-nil fields into the named record and stamps
// UpdatedAt. A trigger update is re-validated before anything is applied.
func (e *Engine) UpdateMemory(name string, updates UpdateParams) Result {
	if updates.Trigger != nil {
		if v := e.sandbox.TestTrigger(*updates.Trigger); !v.Valid {
			return failure("invalid trigger: %s", v.Error)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	mem, ok := e.index[name]
	if !ok {
		return failure("memory %q: %s", name, core.ErrNotFound.Error())
	}
	if updates.Prompt != nil {
		mem.Prompt = *updates.Prompt
	}
	if updates.Trigger != nil {
		mem.Trigger = *updates.Trigger
	}
	if updates.UpdatedContext != nil {
		mem.UpdatedContext = *updates.UpdatedContext
	}
	if updates.Modalities != nil {
		mem.Modalities = core.CloneModalities(updates.Modalities)
	}
	now := e.now()
	mem.UpdatedAt = &now
	e.logger.Info("long-term memory updated", "name", name)
	return Result{Success: true}
}

// DeleteMemory removes the named record and reports whether it existed.
func (e *Engine) DeleteMemory(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	mem, ok := e.index[name]
	if !ok {
		return false
	}
	delete(e.index, name)
	for i, r := range e.records {
		if r == mem {
			e.records = append(e.records[:i], e.records[i+1:]...)
			break
		}
	}
	e.logger.Info("long-term memory deleted", "name", name)
	return true
}

// GetMemory returns a copy of the named record.
func (e *Engine) GetMemory(name string) (core.LongTermMemory, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mem, ok := e.index[name]
	if !ok {
		return core.LongTermMemory{}, false
	}
	return mem.Clone(), true
}

// ActivationResults partitions a search into trigger-activated records and
// unweighted random picks from the complement.
type ActivationResults struct {
	Activated []core.LongTermMemory `json:"activated"`
	Random    []core.LongTermMemory `json:"random"`
}

// SearchAndActivateMemories evaluates every stored trigger against the
// conversation through the sandbox. Triggers that error or time out count
// as not activated. The non-activated complement is uniformly shuffled and
// up to RandomLimit records are returned as serendipity picks.
func (e *Engine) SearchAndActivateMemories(ec core.ConversationContext) ActivationResults {
	// clone under the lock, evaluate outside it: a slow or timing-out
	// trigger must not block concurrent mutations
	e.mu.Lock()
	candidates := make([]core.LongTermMemory, len(e.records))
	for i, mem := range e.records {
		candidates[i] = mem.Clone()
	}
	e.mu.Unlock()

	var results ActivationResults
	var rest []core.LongTermMemory
	for _, mem := range candidates {
		start := time.Now()
		triggered := e.sandbox.EvaluateTrigger(mem.Trigger, ec)
		e.logger.Debug("trigger evaluated",
			"name", mem.Name, "triggered", triggered, "duration", time.Since(start))
		if triggered {
			results.Activated = append(results.Activated, mem)
		} else {
			rest = append(rest, mem)
		}
	}

	e.mu.Lock()
	e.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	e.mu.Unlock()
	if len(rest) > e.randomLimit {
		rest = rest[:e.randomLimit]
	}
	results.Random = rest
	return results
}

// LoadRecords hydrates raw persisted records. Malformed entries (missing
// name, prompt or trigger, unparsable createdAt) are dropped with a logged
// warning. Returns the number of records loaded.
func (e *Engine) LoadRecords(raw []map[string]any) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	loaded := 0
	for i, record := range raw {
		mem, err := e.hydrate(record)
		if err != nil {
			e.logger.Warn("dropping malformed long-term record", "index", i, "error", err.Error())
			continue
		}
		if _, ok := e.index[mem.Name]; ok {
			e.logger.Warn("dropping duplicate long-term record", "name", mem.Name)
			continue
		}
		if e.index == nil {
			e.index = map[string]*core.LongTermMemory{}
		}
		e.records = append(e.records, mem)
		e.index[mem.Name] = mem
		loaded++
	}
	return loaded
}

func (e *Engine) hydrate(record map[string]any) (*core.LongTermMemory, error) {
	name, _ := record["name"].(string)
	prompt, _ := record["prompt"].(string)
	code, _ := record["trigger"].(string)
	switch {
	case strings.TrimSpace(name) == "":
		return nil, fmt.Errorf("missing name")
	case strings.TrimSpace(prompt) == "":
		return nil, fmt.Errorf("missing prompt")
	case strings.TrimSpace(code) == "":
		return nil, fmt.Errorf("missing trigger")
	}
	mem := &core.LongTermMemory{Name: name, Prompt: prompt, Trigger: code}
	createdAt, err := parseTimestamp(record["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	mem.CreatedAt = createdAt
	if v, ok := record["updatedAt"]; ok {
		if updatedAt, err := parseTimestamp(v); err == nil {
			mem.UpdatedAt = &updatedAt
		}
	}
	if s, ok := record["createdContext"].(string); ok {
		mem.CreatedContext = s
	}
	if s, ok := record["updatedContext"].(string); ok {
		mem.UpdatedContext = s
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
		return time.UnixMilli(int64(ts)), nil
	case time.Time:
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("missing or unsupported value %v", v)
}

// Count returns the number of stored records.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// Snapshot returns deep copies of all records in insertion order for
// persistence.
func (e *Engine) Snapshot() []core.LongTermMemory {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make([]core.LongTermMemory, len(e.records))
	for i, mem := range e.records {
		snapshot[i] = mem.Clone()
	}
	return snapshot
}
