package longterm

import (
	"fmt"
	"strings"
	"time"

	"github.com/recallkit/recallkit/core"
)

// FormatMemory renders a single record as a prompt-injectable block.
func FormatMemory(m core.LongTermMemory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Memory: %s]\n", m.Name)
	fmt.Fprintf(&b, "Created: %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	if m.UpdatedAt != nil {
		fmt.Fprintf(&b, "Updated: %s\n", m.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if m.CreatedContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", m.CreatedContext)
	}
	if n := len(m.Modalities); n > 0 {
		types := make([]string, n)
		for i, mod := range m.Modalities {
			types[i] = mod.Type
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(types, ", "))
	}
	b.WriteString(m.Prompt)
	return b.String()
}

// FormatMemoryContext renders every stored record for prompt injection,
// separated by blank lines; empty string when the store is empty.
func (e *Engine) FormatMemoryContext() string {
	records := e.Snapshot()
	if len(records) == 0 {
		return ""
	}
	blocks := make([]string, len(records))
	for i, mem := range records {
		blocks[i] = FormatMemory(mem)
	}
	return strings.Join(blocks, "\n\n")
}

// FormatActivatedMemories renders an activation outcome: triggered records
// first, then the serendipity picks under their own heading.
func FormatActivatedMemories(results ActivationResults) string {
	var sections []string
	if len(results.Activated) > 0 {
		blocks := make([]string, len(results.Activated))
		for i, mem := range results.Activated {
			blocks[i] = FormatMemory(mem)
		}
		sections = append(sections, "Activated memories:\n\n"+strings.Join(blocks, "\n\n"))
	}
	if len(results.Random) > 0 {
		blocks := make([]string, len(results.Random))
		for i, mem := range results.Random {
			blocks[i] = FormatMemory(mem)
		}
		sections = append(sections, "Recalled at random:\n\n"+strings.Join(blocks, "\n\n"))
	}
	return strings.Join(sections, "\n\n")
}
