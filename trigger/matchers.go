package trigger

import (
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/recallkit/recallkit/core"
)

// matchKeysFunc builds the match_keys(messages, keywords, scope, depth)
// host function: it counts keyword hits across the last depth messages
// filtered by scope ("any"|"user"|"assistant"|"system"). Depth 0 means all
// messages.
func matchKeysFunc(vm *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		messages := scopedContent(call)
		keywords := argKeywords(call.Argument(1))
		count := 0
		for _, kw := range keywords {
			re, err := keywordRegexp(kw)
			if err != nil {
				continue
			}
			for _, content := range messages {
				count += len(re.FindAllStringIndex(content, -1))
			}
		}
		return vm.ToValue(count)
	}
}

// matchKeysAllFunc builds match_keys_all(messages, keywords, scope, depth):
// a boolean AND of all keywords over the concatenated scoped content.
func matchKeysAllFunc(vm *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		combined := strings.Join(scopedContent(call), "\n")
		keywords := argKeywords(call.Argument(1))
		if len(keywords) == 0 {
			return vm.ToValue(false)
		}
		for _, kw := range keywords {
			re, err := keywordRegexp(kw)
			if err != nil || !re.MatchString(combined) {
				return vm.ToValue(false)
			}
		}
		return vm.ToValue(true)
	}
}

// scopedContent extracts the message contents selected by the scope and
// depth arguments of a matcher call.
func scopedContent(call goja.FunctionCall) []string {
	messages := argMessages(call.Argument(0))
	scope := "any"
	if s, ok := call.Argument(2).Export().(string); ok && s != "" {
		scope = s
	}
	depth := 0
	if d, ok := call.Argument(3).Export().(int64); ok {
		depth = int(d)
	} else if d, ok := call.Argument(3).Export().(float64); ok {
		depth = int(d)
	}
	if depth > 0 && depth < len(messages) {
		messages = messages[len(messages)-depth:]
	}
	contents := make([]string, 0, len(messages))
	for _, msg := range messages {
		if scope != "any" && msg.Role != scope {
			continue
		}
		contents = append(contents, msg.Content)
	}
	return contents
}

// argMessages coerces the first matcher argument into typed messages. It
// accepts the injected context.messages value as well as script-built
// arrays of {role, content} objects.
func argMessages(v goja.Value) []core.Message {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch items := v.Export().(type) {
	case []core.Message:
		return items
	case []map[string]any:
		messages := make([]core.Message, 0, len(items))
		for _, item := range items {
			messages = append(messages, messageFromMap(item))
		}
		return messages
	case []any:
		messages := make([]core.Message, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				messages = append(messages, messageFromMap(m))
			}
		}
		return messages
	}
	return nil
}

func messageFromMap(m map[string]any) core.Message {
	msg := core.Message{}
	if role, ok := m["role"].(string); ok {
		msg.Role = role
	}
	if content, ok := m["content"].(string); ok {
		msg.Content = content
	}
	return msg
}

// argKeywords coerces the keyword list argument into strings, dropping
// non-string entries.
func argKeywords(v goja.Value) []string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch items := v.Export().(type) {
	case []string:
		return items
	case []any:
		keywords := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				keywords = append(keywords, s)
			}
		}
		return keywords
	case string:
		return []string{items}
	}
	return nil
}

// keywordRegexp compiles a keyword into a case-insensitive matcher. ASCII
// keywords are wrapped in word boundaries; CJK keywords match unanchored
// since word boundaries are meaningless without segmentation.
func keywordRegexp(keyword string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(keyword)
	if containsCJK(keyword) {
		return regexp.Compile("(?i)" + quoted)
	}
	return regexp.Compile(`(?i)\b` + quoted + `\b`)
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x2E80 && r <= 0x9FFF || r >= 0xAC00 && r <= 0xD7AF || r >= 0xF900 && r <= 0xFAFF || r >= 0x3040 && r <= 0x30FF {
			return true
		}
	}
	return false
}
