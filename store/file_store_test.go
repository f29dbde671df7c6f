package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recallkit/core"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := New(t.TempDir(), func(o *Options) { o.WriteDelay = 50 * time.Millisecond })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSanitizeConversationID(t *testing.T) {
	assert.Equal(t, "conv-1_a", SanitizeConversationID("conv-1_a"))
	assert.Equal(t, "a_b_c", SanitizeConversationID("a/b:c"))
	assert.Equal(t, "____", SanitizeConversationID("日本語!"))
	assert.Equal(t, "_", SanitizeConversationID(""))
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	records, err := s.LoadShortTerm("nope")
	require.NoError(t, err)
	assert.Empty(t, records)
	records, err = s.LoadLongTerm("nope")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadCorruptDocumentPropagates(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.BaseDir(), "bad")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short_term.json"), []byte(`{"not":"array"}`), 0o644))
	_, err := s.LoadShortTerm("bad")
	assert.Error(t, err)
}

func TestSaveFlushLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	records := []core.ShortTermMemory{{
		ID:             "m1",
		Text:           "user: hello",
		Keywords:       []core.Keyword{{Word: "cat", Weight: 2}, {Word: "Cat", Weight: 5}},
		Score:          3,
		Timestamp:      now,
		ConversationID: "conv1",
		Modalities: []core.Modality{
			{Type: core.ModalityTypeImage, URI: "file:///a.png", Metadata: map[string]any{"contentHash": "h1", "_tmp": "x"}},
			{Type: core.ModalityTypeImage, URI: "file:///a.png"},
		},
	}}
	require.NoError(t, s.SaveShortTerm("conv1", records))
	require.NoError(t, s.FlushAll())

	// raw document honors the durable contract
	data, err := os.ReadFile(s.ShortTermPath("conv1"))
	require.NoError(t, err)
	var wire []map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Len(t, wire, 1)
	assert.Equal(t, now.Format(time.RFC3339Nano), wire[0]["timestamp"])
	assert.Len(t, wire[0]["keywords"], 1, "keywords deduplicated case-insensitively")
	assert.Len(t, wire[0]["modalities"], 1, "image modalities deduplicated by URI")
	meta := wire[0]["modalities"].([]any)[0].(map[string]any)["metadata"].(map[string]any)
	_, hasEphemeral := meta["_tmp"]
	assert.False(t, hasEphemeral, "reserved-prefix fields stripped")

	// fresh store sees normalized records
	fresh, err := New(s.BaseDir())
	require.NoError(t, err)
	defer fresh.Close()
	loaded, err := fresh.LoadShortTerm("conv1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "user: hello", loaded[0]["text"])
}

func TestLoadNormalizesLegacyFields(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.BaseDir(), "legacy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	legacy := `[
		{
			"text": "old record",
			"time": 1700000000000,
			"conversationId": "legacy",
			"keywords": [{"word":"cat","weight":2.0},{"word":"Cat","weight":1.5},{"word":"dog","weight":1.0},{"word":"cat","weight":3.0}],
			"images": ["file:///x.png", {"url": "file:///x.png"}],
			"_scratch": true
		},
		"not an object",
		{"created_at": "2023-01-02T03:04:05Z", "text": "second"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short_term.json"), []byte(legacy), 0o644))

	records, err := s.LoadShortTerm("legacy")
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, formatTimestamp(time.UnixMilli(1700000000000)), first["timestamp"])
	_, hasTime := first["time"]
	assert.False(t, hasTime, "legacy timestamp field removed")
	_, hasScratch := first["_scratch"]
	assert.False(t, hasScratch, "ephemeral field stripped")
	_, hasImages := first["images"]
	assert.False(t, hasImages, "legacy images folded into modalities")
	assert.Len(t, first["modalities"], 1, "folded images deduplicated by URI")

	kws := first["keywords"].([]any)
	require.Len(t, kws, 2)
	assert.Equal(t, map[string]any{"word": "cat", "weight": 3.0}, kws[0])
	assert.Equal(t, map[string]any{"word": "dog", "weight": 1.0}, kws[1])

	second := records[2]
	assert.Equal(t, "2023-01-02T03:04:05Z", second["timestamp"])
}

func TestCoalescingLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveShortTerm("c", []core.ShortTermMemory{{Text: "first", Timestamp: time.Now()}}))
	require.NoError(t, s.SaveShortTerm("c", []core.ShortTermMemory{{Text: "second", Timestamp: time.Now()}}))
	assert.Equal(t, 1, s.PendingWrites(), "writes to one path coalesce into one buffer")

	require.NoError(t, s.FlushAll())
	records, err := s.LoadShortTerm("c")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0]["text"])
}

func TestDelayedFlushReachesDisk(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveShortTerm("c", []core.ShortTermMemory{{Text: "buffered", Timestamp: time.Now()}}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(s.ShortTermPath("c")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("buffered write never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoadObservesBufferedWrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveShortTerm("c", []core.ShortTermMemory{{Text: "pending", Timestamp: time.Now()}}))
	records, err := s.LoadShortTerm("c")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pending", records[0]["text"])
}

func TestCloseFlushesAndRejectsWrites(t *testing.T) {
	s, err := New(t.TempDir(), func(o *Options) { o.WriteDelay = time.Minute })
	require.NoError(t, err)
	require.NoError(t, s.SaveLongTerm("c", []core.LongTermMemory{{Name: "n", Prompt: "p", Trigger: "true", CreatedAt: time.Now()}}))
	require.NoError(t, s.Close())

	if _, err := os.Stat(s.LongTermPath("c")); err != nil {
		t.Fatalf("close did not flush: %v", err)
	}
	assert.Error(t, s.SaveLongTerm("c", nil))
}

func TestLongTermRoundTrip(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	updated := created.Add(time.Hour)
	require.NoError(t, s.SaveLongTerm("c", []core.LongTermMemory{{
		Name:      "birthday",
		Prompt:    "remember the birthday",
		Trigger:   "match_keys(context.messages, ['birthday'], 'any')",
		CreatedAt: created,
		UpdatedAt: &updated,
	}}))
	require.NoError(t, s.FlushAll())

	records, err := s.LoadLongTerm("c")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "birthday", records[0]["name"])
	assert.Equal(t, formatTimestamp(created), records[0]["createdAt"])
	assert.Equal(t, formatTimestamp(updated), records[0]["updatedAt"])
}

func textRecord(text string) []core.ShortTermMemory {
	return []core.ShortTermMemory{{ID: "m-" + text, Text: text, Timestamp: time.Now().UTC(), ConversationID: "c1"}}
}

// blockConversationDir plants a regular file where the conversation
// directory belongs so every write attempt fails until it is removed.
func blockConversationDir(t *testing.T, baseDir, conversationID string) string {
	t.Helper()
	blocker := filepath.Join(baseDir, SanitizeConversationID(conversationID))
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	return blocker
}

func TestStaleRetryNeverOverwritesNewerDocument(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, func(o *Options) { o.WriteDelay = 5 * time.Millisecond })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	blocker := blockConversationDir(t, base, "c1")
	require.NoError(t, s.SaveShortTerm("c1", textRecord("v1")))
	// let the timer fire and the first attempt fail into its backoff
	time.Sleep(40 * time.Millisecond)

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, s.SaveShortTerm("c1", textRecord("v2")))
	require.NoError(t, s.FlushAll())

	records, err := s.LoadShortTerm("c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "v2", records[0]["text"])

	// outlast the full retry schedule; the retried v1 write must not have
	// landed over v2
	time.Sleep(250 * time.Millisecond)
	records, err = s.LoadShortTerm("c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "v2", records[0]["text"])
}

func TestWriteRetriesTransientFailure(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, func(o *Options) { o.WriteDelay = time.Millisecond })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	blocker := blockConversationDir(t, base, "c1")
	require.NoError(t, s.SaveShortTerm("c1", textRecord("persisted")))
	time.Sleep(20 * time.Millisecond) // first attempt has failed by now
	require.NoError(t, os.Remove(blocker))

	require.Eventually(t, func() bool {
		_, err := os.Stat(s.ShortTermPath("c1"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "a retry within the backoff schedule lands the write")

	records, err := s.LoadShortTerm("c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "persisted", records[0]["text"])
}

func TestWriteErrorCallbackAfterRetriesExhaust(t *testing.T) {
	type failure struct {
		path string
		err  error
	}
	failures := make(chan failure, 1)

	base := t.TempDir()
	s, err := New(base, func(o *Options) {
		o.WriteDelay = time.Millisecond
		o.OnWriteError = func(path string, err error) { failures <- failure{path: path, err: err} }
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	blockConversationDir(t, base, "c1")
	require.NoError(t, s.SaveShortTerm("c1", textRecord("doomed")))

	select {
	case f := <-failures:
		assert.Equal(t, s.ShortTermPath("c1"), f.path)
		assert.Error(t, f.err)
	case <-time.After(3 * time.Second):
		t.Fatal("write error callback never fired")
	}
}

func TestLoadFoldsLoneLegacyImage(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.BaseDir(), "solo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := `[{"text":"t","timestamp":"2026-01-02T03:04:05Z","images":{"url":"file:///one.png","contentHash":"h1"}}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short_term.json"), []byte(doc), 0o644))

	records, err := s.LoadShortTerm("solo")
	require.NoError(t, err)
	require.Len(t, records, 1)

	mods, ok := records[0]["modalities"].([]any)
	require.True(t, ok, "a lone legacy image folds like a one-element list")
	require.Len(t, mods, 1)
	m := mods[0].(map[string]any)
	assert.Equal(t, core.ModalityTypeImage, m["type"])
	assert.Equal(t, "file:///one.png", m["uri"])
	assert.Equal(t, map[string]any{"contentHash": "h1"}, m["metadata"])
}
