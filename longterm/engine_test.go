package longterm

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recallkit/core"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(optFns ...func(o *Options)) *Engine {
	fns := append([]func(o *Options){func(o *Options) {
		o.Clock = func() time.Time { return testNow }
		o.Rand = rand.New(rand.NewSource(1))
	}}, optFns...)
	return New(fns...)
}

func validParams(name string) AddParams {
	return AddParams{
		Name:           name,
		Prompt:         "remember the user prefers tea",
		Trigger:        "true",
		CreatedContext: "user: I always drink tea",
	}
}

func TestAddMemoryStoresRecord(t *testing.T) {
	e := newTestEngine()
	res := e.AddMemory(validParams("beverage"))
	require.True(t, res.Success, res.Error)

	mem, ok := e.GetMemory("beverage")
	require.True(t, ok)
	assert.Equal(t, "beverage", mem.Name)
	assert.Equal(t, testNow, mem.CreatedAt)
	assert.Nil(t, mem.UpdatedAt)
	assert.Equal(t, 1, e.Count())
}

func TestAddMemoryRejectsMissingFields(t *testing.T) {
	e := newTestEngine()
	for _, tc := range []struct {
		name   string
		mutate func(*AddParams)
	}{
		{"name", func(p *AddParams) { p.Name = " " }},
		{"prompt", func(p *AddParams) { p.Prompt = "" }},
		{"trigger", func(p *AddParams) { p.Trigger = "" }},
		{"createdContext", func(p *AddParams) { p.CreatedContext = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams("m")
			tc.mutate(&params)
			res := e.AddMemory(params)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tc.name)
		})
	}
	assert.Equal(t, 0, e.Count())
}

func TestAddMemoryRejectsInvalidTrigger(t *testing.T) {
	e := newTestEngine()
	params := validParams("broken")
	params.Trigger = "this is not javascript ((("
	res := e.AddMemory(params)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid trigger")
	assert.Equal(t, 0, e.Count())
}

func TestAddMemoryUpsertsByName(t *testing.T) {
	e := newTestEngine()
	require.True(t, e.AddMemory(validParams("beverage")).Success)

	replacement := validParams("beverage")
	replacement.Prompt = "the user switched to coffee"
	require.True(t, e.AddMemory(replacement).Success)

	assert.Equal(t, 1, e.Count())
	mem, ok := e.GetMemory("beverage")
	require.True(t, ok)
	assert.Equal(t, "the user switched to coffee", mem.Prompt)
	assert.Nil(t, mem.UpdatedAt)
}

func TestUpdateMemoryPartialMerge(t *testing.T) {
	e := newTestEngine()
	require.True(t, e.AddMemory(validParams("beverage")).Success)

	prompt := "tea, specifically oolong"
	res := e.UpdateMemory("beverage", UpdateParams{Prompt: &prompt})
	require.True(t, res.Success, res.Error)

	mem, _ := e.GetMemory("beverage")
	assert.Equal(t, prompt, mem.Prompt)
	assert.Equal(t, "true", mem.Trigger)
	require.NotNil(t, mem.UpdatedAt)
	assert.Equal(t, testNow, *mem.UpdatedAt)
}

func TestUpdateMemoryNotFound(t *testing.T) {
	e := newTestEngine()
	res := e.UpdateMemory("ghost", UpdateParams{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestUpdateMemoryRevalidatesTrigger(t *testing.T) {
	e := newTestEngine()
	require.True(t, e.AddMemory(validParams("beverage")).Success)

	bad := "while (("
	res := e.UpdateMemory("beverage", UpdateParams{Trigger: &bad})
	assert.False(t, res.Success)

	mem, _ := e.GetMemory("beverage")
	assert.Equal(t, "true", mem.Trigger)
	assert.Nil(t, mem.UpdatedAt)
}

func TestDeleteMemory(t *testing.T) {
	e := newTestEngine()
	require.True(t, e.AddMemory(validParams("beverage")).Success)
	assert.True(t, e.DeleteMemory("beverage"))
	assert.False(t, e.DeleteMemory("beverage"))
	assert.Equal(t, 0, e.Count())
}

func TestSearchAndActivateMemories(t *testing.T) {
	e := newTestEngine()
	activated := validParams("birthday")
	activated.Trigger = `match_keys(context.messages, ["birthday"])`
	require.True(t, e.AddMemory(activated).Success)

	dormant := validParams("weather")
	dormant.Trigger = `match_keys(context.messages, ["weather"])`
	require.True(t, e.AddMemory(dormant).Success)

	res := e.SearchAndActivateMemories(core.ConversationContext{
		ConversationID: "c1",
		Messages:       []core.Message{{Role: "user", Content: "my birthday is next week"}},
	})
	require.Len(t, res.Activated, 1)
	assert.Equal(t, "birthday", res.Activated[0].Name)
	require.Len(t, res.Random, 1)
	assert.Equal(t, "weather", res.Random[0].Name)
}

func TestSearchRandomBounded(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 6; i++ {
		params := validParams(fmt.Sprintf("m%d", i))
		params.Trigger = "false"
		require.True(t, e.AddMemory(params).Success)
	}
	res := e.SearchAndActivateMemories(core.ConversationContext{})
	assert.Empty(t, res.Activated)
	assert.Len(t, res.Random, DefaultRandomLimit)
}

func TestSearchFailClosedOnErroringTrigger(t *testing.T) {
	e := newTestEngine()
	// validation only smoke-tests against the mock context; a trigger can
	// still throw at activation time and must count as not triggered
	params := validParams("fragile")
	params.Trigger = `context.messages[1].content.length > 0`
	require.True(t, e.AddMemory(params).Success)

	res := e.SearchAndActivateMemories(core.ConversationContext{
		Messages: []core.Message{{Role: "user", Content: "hello"}},
	})
	assert.Empty(t, res.Activated)
	assert.Len(t, res.Random, 1)
}

func TestLoadRecordsDropsMalformed(t *testing.T) {
	e := newTestEngine()
	loaded := e.LoadRecords([]map[string]any{
		{"name": "good", "prompt": "p", "trigger": "true", "createdAt": testNow.Format(time.RFC3339Nano)},
		{"name": "", "prompt": "p", "trigger": "true", "createdAt": testNow.Format(time.RFC3339Nano)},
		{"name": "no-timestamp", "prompt": "p", "trigger": "true"},
		{"name": "good", "prompt": "duplicate", "trigger": "true", "createdAt": testNow.Format(time.RFC3339Nano)},
	})
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, e.Count())
	mem, ok := e.GetMemory("good")
	require.True(t, ok)
	assert.Equal(t, "p", mem.Prompt)
}

func TestLoadRecordsNumericTimestamp(t *testing.T) {
	e := newTestEngine()
	updated := float64(testNow.UnixMilli())
	loaded := e.LoadRecords([]map[string]any{{
		"name": "legacy", "prompt": "p", "trigger": "true",
		"createdAt": float64(testNow.Add(-time.Hour).UnixMilli()),
		"updatedAt": updated,
	}})
	require.Equal(t, 1, loaded)
	mem, _ := e.GetMemory("legacy")
	assert.True(t, mem.CreatedAt.Equal(testNow.Add(-time.Hour)))
	require.NotNil(t, mem.UpdatedAt)
	assert.True(t, mem.UpdatedAt.Equal(testNow))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	e := newTestEngine()
	params := validParams("beverage")
	params.Modalities = []core.Modality{{Type: "image", URI: "file:///cup.png"}}
	require.True(t, e.AddMemory(params).Success)

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Prompt = "mutated"
	snap[0].Modalities[0].URI = "file:///other.png"

	mem, _ := e.GetMemory("beverage")
	assert.Equal(t, "remember the user prefers tea", mem.Prompt)
	assert.Equal(t, "file:///cup.png", mem.Modalities[0].URI)
}

func TestFormatMemory(t *testing.T) {
	updated := testNow
	mem := core.LongTermMemory{
		Name:           "beverage",
		Prompt:         "remember the user prefers tea",
		Trigger:        "true",
		CreatedAt:      testNow.Add(-24 * time.Hour),
		UpdatedAt:      &updated,
		CreatedContext: "user: I always drink tea",
		Modalities:     []core.Modality{{Type: "image"}, {Type: "audio"}},
	}
	out := FormatMemory(mem)
	assert.True(t, strings.HasPrefix(out, "[Memory: beverage]\n"))
	assert.Contains(t, out, "Created: 2026-05-31T12:00:00Z")
	assert.Contains(t, out, "Updated: 2026-06-01T12:00:00Z")
	assert.Contains(t, out, "Context: user: I always drink tea")
	assert.Contains(t, out, "Attachments: image, audio")
	assert.True(t, strings.HasSuffix(out, "remember the user prefers tea"))
}

func TestFormatMemoryContext(t *testing.T) {
	e := newTestEngine()
	assert.Empty(t, e.FormatMemoryContext())

	require.True(t, e.AddMemory(validParams("one")).Success)
	require.True(t, e.AddMemory(validParams("two")).Success)
	out := e.FormatMemoryContext()
	assert.Contains(t, out, "[Memory: one]")
	assert.Contains(t, out, "[Memory: two]")
	assert.Contains(t, out, "\n\n")
}

func TestFormatActivatedMemories(t *testing.T) {
	results := ActivationResults{
		Activated: []core.LongTermMemory{{Name: "a", Prompt: "pa", CreatedAt: testNow}},
		Random:    []core.LongTermMemory{{Name: "r", Prompt: "pr", CreatedAt: testNow}},
	}
	out := FormatActivatedMemories(results)
	assert.Contains(t, out, "Activated memories:")
	assert.Contains(t, out, "[Memory: a]")
	assert.Contains(t, out, "Recalled at random:")
	assert.Contains(t, out, "[Memory: r]")
	assert.Empty(t, FormatActivatedMemories(ActivationResults{}))
}
