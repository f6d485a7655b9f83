package extract

import "strings"

// unwrapped is the outcome of one unwrap strategy: either free text or
// an object that is already structured.
type unwrapped struct {
	text   string
	record map[string]any
}

type unwrapStrategy struct {
	name string
	fn   func(payload any) (unwrapped, bool)
}

var (
	choicesStrategy       = unwrapStrategy{"choices", fromChoices}
	contentBlocksStrategy = unwrapStrategy{"content_blocks", fromContentBlocks}
	resultStrategy        = unwrapStrategy{"result", fromResultObject}
	selfStrategy          = unwrapStrategy{"self", fromSelf}
	contentStrategy       = unwrapStrategy{"content", fromContentString}
	stringStrategy        = unwrapStrategy{"string", fromString}
)

// unwrapChain returns the strategies to try, left to right, for a
// provider tag.
func unwrapChain(providerTag string) []unwrapStrategy {
	if strings.EqualFold(providerTag, "anthropic") {
		return []unwrapStrategy{
			contentBlocksStrategy, choicesStrategy, resultStrategy,
			selfStrategy, contentStrategy, stringStrategy,
		}
	}
	return []unwrapStrategy{
		choicesStrategy, resultStrategy, selfStrategy,
		contentStrategy, contentBlocksStrategy, stringStrategy,
	}
}

// fromChoices matches choices[0].message.content.
func fromChoices(payload any) (unwrapped, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	choices, ok := m["choices"].([]any)
	if !ok || len(choices) == 0 {
		return unwrapped{}, false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	content, ok := msg["content"].(string)
	if !ok {
		return unwrapped{}, false
	}
	return unwrapped{text: content}, true
}

// fromContentBlocks matches content: [{type: text, text: ...}, ...].
func fromContentBlocks(payload any) (unwrapped, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	blocks, ok := m["content"].([]any)
	if !ok || len(blocks) == 0 {
		return unwrapped{}, false
	}
	var b strings.Builder
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "" && t != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok {
			b.WriteString(text)
		}
	}
	if b.Len() == 0 {
		return unwrapped{}, false
	}
	return unwrapped{text: b.String()}, true
}

// fromResultObject matches a top-level result object or string.
func fromResultObject(payload any) (unwrapped, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	switch r := m["result"].(type) {
	case map[string]any:
		return unwrapped{record: r}, true
	case string:
		return unwrapped{text: r}, true
	}
	return unwrapped{}, false
}

// fromSelf matches payloads that already carry narrative/outcome keys.
func fromSelf(payload any) (unwrapped, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	for _, key := range []string{"narrative", "outcomes", "panels"} {
		if _, ok := m[key]; ok {
			return unwrapped{record: m}, true
		}
	}
	return unwrapped{}, false
}

// fromContentString matches a top-level content string.
func fromContentString(payload any) (unwrapped, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return unwrapped{}, false
	}
	content, ok := m["content"].(string)
	if !ok {
		return unwrapped{}, false
	}
	return unwrapped{text: content}, true
}

// fromString matches a bare text payload.
func fromString(payload any) (unwrapped, bool) {
	switch v := payload.(type) {
	case string:
		return unwrapped{text: v}, true
	case []byte:
		return unwrapped{text: string(v)}, true
	}
	return unwrapped{}, false
}
