// Package recallkit provides a high-level façade over the dual-tier
// conversational memory engines (short-term, long-term, persistent store &
// logging). Most applications interact with this package by:
//  1. Creating a RecallKit via New() with a base directory for the store
//  2. Feeding conversation turns in via AddMemory
//  3. Querying with SearchMemories and ActivateMemories before each reply
//  4. Calling Shutdown on exit so buffered writes reach disk
//
// The façade delegates per-conversation work to manager.Manager while
// keeping setup ergonomics concise. All defaults are safe for local
// development; production deployments typically supply a structured logger
// and tuned cache limits.
package recallkit

import (
	"context"
	"errors"
	"time"

	"github.com/recallkit/recallkit/core"
	"github.com/recallkit/recallkit/logging"
	"github.com/recallkit/recallkit/longterm"
	"github.com/recallkit/recallkit/manager"
	"github.com/recallkit/recallkit/shortterm"
	"github.com/recallkit/recallkit/store"
	"github.com/recallkit/recallkit/trigger"
)

// Options configures the RecallKit instance.
type Options struct {
	// BaseDir is the root directory of the persistent store.
	BaseDir string

	// Store overrides the default file-backed document store. When set,
	// BaseDir and StoreOptions are ignored.
	Store core.DocumentStore

	// StoreOptions tune the file store (write coalescing delay, error
	// callback).
	StoreOptions store.Options

	// ShortTermConfig tunes scoring, selection and retention of the
	// short-term engines. Pre-seeded with shortterm.DefaultConfig; mutate
	// fields to override.
	ShortTermConfig shortterm.Config

	// ManagerConfig bounds the engine cache (capacity, idle TTL).
	// Pre-seeded with manager.DefaultConfig.
	ManagerConfig manager.Config

	// TriggerTimeout caps long-term trigger evaluation; clamped to the
	// sandbox maximum of one second.
	TriggerTimeout time.Duration

	// Extractor overrides the default keyword extractor.
	Extractor core.KeywordExtractor

	// Normalizer overrides the default modality normalizer.
	Normalizer core.ModalityNormalizer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// RecallKit is the high-level façade aggregating the engine cache and the
// persistent store.
type RecallKit struct {
	opts      Options
	store     core.DocumentStore
	ownsStore bool
	manager   *manager.Manager
}

// New creates a RecallKit instance with optional overrides. Unless a store
// is supplied, a file-backed one is created under BaseDir (default
// "./memory").
func New(optFns ...func(o *Options)) (*RecallKit, error) {
	opts := Options{
		BaseDir:         "./memory",
		ShortTermConfig: shortterm.DefaultConfig(),
		ManagerConfig:   manager.DefaultConfig(),
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	docStore := opts.Store
	ownsStore := false
	if docStore == nil {
		fileStore, err := store.New(opts.BaseDir, func(o *store.Options) {
			*o = opts.StoreOptions
			if o.Logger == nil {
				o.Logger = opts.Logger
			}
		})
		if err != nil {
			return nil, err
		}
		docStore = fileStore
		ownsStore = true
	}

	sandbox := trigger.NewSandbox(func(o *trigger.Options) {
		o.Logger = opts.Logger
		if opts.TriggerTimeout > 0 {
			o.Timeout = opts.TriggerTimeout
		}
	})
	mgr := manager.New(docStore, func(o *manager.Options) {
		o.Config = opts.ManagerConfig
		o.Extractor = opts.Extractor
		o.Normalizer = opts.Normalizer
		o.Sandbox = sandbox
		o.Logger = opts.Logger
		o.ShortTermConfig = opts.ShortTermConfig
	})

	return &RecallKit{opts: opts, store: docStore, ownsStore: ownsStore, manager: mgr}, nil
}

// AddMemory stores the messages as a short-term memory of the conversation.
func (r *RecallKit) AddMemory(conversationID string, messages []core.Message, opts shortterm.AddOptions) (shortterm.AddResult, error) {
	return r.manager.AddShortTermMemory(conversationID, messages, opts)
}

// SearchMemories returns the relevance-ranked short-term recall for the
// recent messages of the conversation.
func (r *RecallKit) SearchMemories(conversationID string, messages []core.Message, opts shortterm.SearchOptions) (shortterm.SearchResults, error) {
	return r.manager.SearchShortTermMemories(conversationID, messages, opts)
}

// DeleteMemories removes short-term memories whose text matches the
// pattern.
func (r *RecallKit) DeleteMemories(conversationID, pattern string) (int, error) {
	return r.manager.DeleteShortTermMemories(conversationID, pattern)
}

// Cleanup runs a short-term retention pass when one is due.
func (r *RecallKit) Cleanup(conversationID string) (shortterm.CleanupResult, bool, error) {
	return r.manager.CleanupShortTerm(conversationID)
}

// MemoryStats returns aggregate short-term statistics for the conversation.
func (r *RecallKit) MemoryStats(conversationID string) (shortterm.Stats, error) {
	return r.manager.ShortTermStats(conversationID)
}

// AddLongTermMemory validates the trigger and upserts a long-term memory.
func (r *RecallKit) AddLongTermMemory(conversationID string, params longterm.AddParams) (longterm.Result, error) {
	return r.manager.AddLongTermMemory(conversationID, params)
}

// UpdateLongTermMemory merges an update into the named long-term memory.
func (r *RecallKit) UpdateLongTermMemory(conversationID, name string, updates longterm.UpdateParams) (longterm.Result, error) {
	return r.manager.UpdateLongTermMemory(conversationID, name, updates)
}

// DeleteLongTermMemory removes the named long-term memory.
func (r *RecallKit) DeleteLongTermMemory(conversationID, name string) (bool, error) {
	return r.manager.DeleteLongTermMemory(conversationID, name)
}

// ActivateMemories evaluates every stored trigger of the conversation
// against the live context.
func (r *RecallKit) ActivateMemories(ec core.ConversationContext) (longterm.ActivationResults, error) {
	return r.manager.ActivateLongTermMemories(ec)
}

// MemoryContext renders every long-term memory of the conversation for
// prompt injection.
func (r *RecallKit) MemoryContext(conversationID string) (string, error) {
	return r.manager.LongTermMemoryContext(conversationID)
}

// Shutdown drains the engine cache and flushes the store. Safe to call
// more than once.
func (r *RecallKit) Shutdown(ctx context.Context) error {
	errs := []error{ctx.Err(), r.manager.Close()}
	if closer, ok := r.store.(interface{ Close() error }); ok && r.ownsStore {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
