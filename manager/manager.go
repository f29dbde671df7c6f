package manager

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/recallkit/recallkit/core"
	"github.com/recallkit/recallkit/logging"
	"github.com/recallkit/recallkit/longterm"
	"github.com/recallkit/recallkit/shortterm"
	"github.com/recallkit/recallkit/trigger"
)

// Cache defaults.
const (
	DefaultCapacity      = 64
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Config tunes the engine cache.
type Config struct {
	// Capacity bounds the number of resident conversations. Default 64.
	Capacity int
	// IdleTTL evicts conversations untouched for this long. Default 30m.
	IdleTTL time.Duration
	// SweepInterval is the idle-eviction cadence. Default 5m; negative
	// disables the background sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      DefaultCapacity,
		IdleTTL:       DefaultIdleTTL,
		SweepInterval: DefaultSweepInterval,
	}
}

// Options configures a Manager. Config and ShortTermConfig are pre-seeded
// with their package defaults; mutate fields to override.
type Options struct {
	Config          Config
	Extractor       core.KeywordExtractor
	Normalizer      core.ModalityNormalizer
	Sandbox         *trigger.Sandbox
	Logger          logging.Logger
	ShortTermConfig shortterm.Config
	// Clock overrides time.Now, primarily for tests.
	Clock func() time.Time
}

type entry struct {
	conversationID string
	shortTerm      *shortterm.Engine
	longTerm       *longterm.Engine
	lastAccess     time.Time
	elem           *list.Element
}

// Manager is a bounded LRU of conversation id to engine pair.
//
// The map and recency list are guarded by the manager mutex; engine calls
// happen outside it so a slow trigger evaluation in one conversation never
// blocks access to another.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	opts    Options
	store   core.DocumentStore
	logger  logging.Logger
	now     func() time.Time
	entries map[string]*entry
	lru     *list.List // front = most recent
	done    chan struct{}
	closed  bool
}

// New constructs a manager over the given store and starts the idle sweep.
func New(store core.DocumentStore, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Config:          DefaultConfig(),
		ShortTermConfig: shortterm.DefaultConfig(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Sandbox == nil {
		opts.Sandbox = trigger.NewSandbox(func(o *trigger.Options) { o.Logger = opts.Logger })
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	m := &Manager{
		cfg:     opts.Config,
		opts:    opts,
		store:   store,
		logger:  opts.Logger,
		now:     opts.Clock,
		entries: map[string]*entry{},
		lru:     list.New(),
		done:    make(chan struct{}),
	}
	if m.cfg.SweepInterval > 0 {
		go m.sweepLoop()
	}
	return m
}

var errClosed = fmt.Errorf("memory manager is closed")

// engines returns the resident engine pair for the conversation, hydrating
// it from the store on first access and refreshing its recency.
func (m *Manager) engines(conversationID string) (*entry, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	if ent, ok := m.entries[conversationID]; ok {
		ent.lastAccess = m.now()
		m.lru.MoveToFront(ent.elem)
		m.mu.Unlock()
		return ent, nil
	}
	m.mu.Unlock()

	// hydrate outside the lock; concurrent first access to the same
	// conversation is resolved below with the earlier entry winning
	ent, err := m.hydrate(conversationID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	if existing, ok := m.entries[conversationID]; ok {
		existing.lastAccess = m.now()
		m.lru.MoveToFront(existing.elem)
		m.mu.Unlock()
		return existing, nil
	}
	ent.lastAccess = m.now()
	ent.elem = m.lru.PushFront(ent)
	m.entries[conversationID] = ent
	var evicted []*entry
	for m.lru.Len() > m.cfg.Capacity {
		evicted = append(evicted, m.removeOldestLocked())
	}
	m.mu.Unlock()

	for _, old := range evicted {
		m.persistEntry(old, "capacity eviction")
	}
	return ent, nil
}

func (m *Manager) hydrate(conversationID string) (*entry, error) {
	stRecords, err := m.store.LoadShortTerm(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load short-term %q: %w", conversationID, err)
	}
	ltRecords, err := m.store.LoadLongTerm(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load long-term %q: %w", conversationID, err)
	}

	st := shortterm.New(func(o *shortterm.Options) {
		o.Config = m.opts.ShortTermConfig
		o.Extractor = m.opts.Extractor
		o.Normalizer = m.opts.Normalizer
		o.Logger = m.logger
		o.Clock = m.opts.Clock
	})
	lt := longterm.New(func(o *longterm.Options) {
		o.Sandbox = m.opts.Sandbox
		o.Normalizer = m.opts.Normalizer
		o.Logger = m.logger
		o.Clock = m.opts.Clock
	})
	st.LoadRecords(stRecords)
	lt.LoadRecords(ltRecords)
	m.logger.Debug("conversation engines hydrated",
		"conversation_id", conversationID,
		"short_term", st.Count(), "long_term", lt.Count())
	return &entry{conversationID: conversationID, shortTerm: st, longTerm: lt}, nil
}

// removeOldestLocked pops the LRU tail; caller holds the mutex.
func (m *Manager) removeOldestLocked() *entry {
	back := m.lru.Back()
	ent := back.Value.(*entry)
	m.lru.Remove(back)
	delete(m.entries, ent.conversationID)
	return ent
}

// persistEntry snapshots both engines back to the store.
func (m *Manager) persistEntry(ent *entry, reason string) {
	if err := m.store.SaveShortTerm(ent.conversationID, ent.shortTerm.Snapshot()); err != nil {
		m.logger.Error("short-term save failed", "conversation_id", ent.conversationID, "error", err.Error())
	}
	if err := m.store.SaveLongTerm(ent.conversationID, ent.longTerm.Snapshot()); err != nil {
		m.logger.Error("long-term save failed", "conversation_id", ent.conversationID, "error", err.Error())
	}
	m.logger.Debug("conversation persisted", "conversation_id", ent.conversationID, "reason", reason)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle evicts every entry idle longer than IdleTTL.
func (m *Manager) sweepIdle() {
	now := m.now()
	m.mu.Lock()
	var idle []*entry
	for elem := m.lru.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*entry)
		if now.Sub(ent.lastAccess) >= m.cfg.IdleTTL {
			m.lru.Remove(elem)
			delete(m.entries, ent.conversationID)
			idle = append(idle, ent)
		}
		elem = prev
	}
	m.mu.Unlock()

	for _, ent := range idle {
		m.persistEntry(ent, "idle eviction")
	}
}

// Resident returns the number of cached conversations.
func (m *Manager) Resident() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the sweep, persists every resident conversation and flushes
// the store. The manager rejects further operations once closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	var all []*entry
	for m.lru.Len() > 0 {
		all = append(all, m.removeOldestLocked())
	}
	m.mu.Unlock()

	for _, ent := range all {
		m.persistEntry(ent, "shutdown")
	}
	return m.store.FlushAll()
}

// AddShortTermMemory stores the messages as a short-term memory and
// schedules persistence.
func (m *Manager) AddShortTermMemory(conversationID string, messages []core.Message, opts shortterm.AddOptions) (shortterm.AddResult, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return shortterm.AddResult{}, err
	}
	res := ent.shortTerm.AddMemory(messages, conversationID, opts)
	if res.Success {
		m.saveShortTerm(ent)
	}
	return res, nil
}

// SearchShortTermMemories runs a relevance search for the conversation.
// Reinforcement mutates scores, so the snapshot is persisted afterwards.
func (m *Manager) SearchShortTermMemories(conversationID string, messages []core.Message, opts shortterm.SearchOptions) (shortterm.SearchResults, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return shortterm.SearchResults{}, err
	}
	res := ent.shortTerm.SearchRelevantMemories(messages, conversationID, opts)
	if len(res.TopRelevant)+len(res.NextRelevant) > 0 {
		m.saveShortTerm(ent)
	}
	return res, nil
}

// DeleteShortTermMemories removes matching memories of the conversation.
func (m *Manager) DeleteShortTermMemories(conversationID, pattern string) (int, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return 0, err
	}
	removed := ent.shortTerm.DeleteMemories(pattern)
	if removed > 0 {
		m.saveShortTerm(ent)
	}
	return removed, nil
}

// CleanupShortTerm runs a retention pass when the cleanup interval has
// elapsed; it reports whether a pass ran and what it did.
func (m *Manager) CleanupShortTerm(conversationID string) (shortterm.CleanupResult, bool, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return shortterm.CleanupResult{}, false, err
	}
	now := m.now()
	if !ent.shortTerm.ShouldCleanup(now) {
		return shortterm.CleanupResult{}, false, nil
	}
	res := ent.shortTerm.Cleanup(now)
	if res.Removed > 0 {
		m.saveShortTerm(ent)
	}
	return res, true, nil
}

// ShortTermStats returns the aggregate stats of the conversation.
func (m *Manager) ShortTermStats(conversationID string) (shortterm.Stats, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return shortterm.Stats{}, err
	}
	return ent.shortTerm.Stats(), nil
}

// AddLongTermMemory validates and upserts a long-term memory.
func (m *Manager) AddLongTermMemory(conversationID string, params longterm.AddParams) (longterm.Result, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return longterm.Result{}, err
	}
	res := ent.longTerm.AddMemory(params)
	if res.Success {
		m.saveLongTerm(ent)
	}
	return res, nil
}

// UpdateLongTermMemory merges an update into the named memory.
func (m *Manager) UpdateLongTermMemory(conversationID, name string, updates longterm.UpdateParams) (longterm.Result, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return longterm.Result{}, err
	}
	res := ent.longTerm.UpdateMemory(name, updates)
	if res.Success {
		m.saveLongTerm(ent)
	}
	return res, nil
}

// DeleteLongTermMemory removes the named memory.
func (m *Manager) DeleteLongTermMemory(conversationID, name string) (bool, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return false, err
	}
	removed := ent.longTerm.DeleteMemory(name)
	if removed {
		m.saveLongTerm(ent)
	}
	return removed, nil
}

// ActivateLongTermMemories evaluates every trigger of the conversation
// against the live context.
func (m *Manager) ActivateLongTermMemories(ec core.ConversationContext) (longterm.ActivationResults, error) {
	ent, err := m.engines(ec.ConversationID)
	if err != nil {
		return longterm.ActivationResults{}, err
	}
	return ent.longTerm.SearchAndActivateMemories(ec), nil
}

// LongTermMemoryContext renders every long-term memory of the conversation
// for prompt injection.
func (m *Manager) LongTermMemoryContext(conversationID string) (string, error) {
	ent, err := m.engines(conversationID)
	if err != nil {
		return "", err
	}
	return ent.longTerm.FormatMemoryContext(), nil
}

func (m *Manager) saveShortTerm(ent *entry) {
	if err := m.store.SaveShortTerm(ent.conversationID, ent.shortTerm.Snapshot()); err != nil {
		m.logger.Error("short-term save failed", "conversation_id", ent.conversationID, "error", err.Error())
	}
}

func (m *Manager) saveLongTerm(ent *entry) {
	if err := m.store.SaveLongTerm(ent.conversationID, ent.longTerm.Snapshot()); err != nil {
		m.logger.Error("long-term save failed", "conversation_id", ent.conversationID, "error", err.Error())
	}
}
