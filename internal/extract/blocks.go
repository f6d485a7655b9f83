package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// blockFormat is the syntax a candidate block is decoded with.
type blockFormat int

const (
	formatJSON blockFormat = iota
	formatYAML
)

// candidate is one block of text that may hold the structured payload.
type candidate struct {
	raw    string // exact text to cut from the reply, fences included
	body   string
	format blockFormat
}

type blockStrategy struct {
	name string
	find func(text string) []candidate
}

// blockChain is tried in order; the first candidate that parses wins.
var blockChain = []blockStrategy{
	{"tagged_fence", findTaggedFences},
	{"any_fence", findAnyFences},
	{"bare_braces", findBareObject},
}

var (
	taggedFence = regexp.MustCompile("(?s)```[ \t]*(?i:(json|jsonc|yaml|yml))[ \t]*\r?\n(.*?)```")
	anyFence    = regexp.MustCompile("(?s)```[^\\n`]*\\n?(.*?)```")
)

// findTaggedFences returns fences explicitly tagged as structured data.
func findTaggedFences(text string) []candidate {
	var out []candidate
	for _, m := range taggedFence.FindAllStringSubmatch(text, -1) {
		format := formatJSON
		if tag := strings.ToLower(m[1]); tag == "yaml" || tag == "yml" {
			format = formatYAML
		}
		out = append(out, candidate{raw: m[0], body: m[2], format: format})
	}
	return out
}

// findAnyFences returns every fenced block regardless of its tag.
func findAnyFences(text string) []candidate {
	var out []candidate
	for _, m := range anyFence.FindAllStringSubmatch(text, -1) {
		out = append(out, candidate{raw: m[0], body: m[1], format: formatJSON})
	}
	return out
}

// findBareObject returns every top-level balanced {...} span in order,
// honoring string literals so braces inside strings do not count. An
// opening brace that never closes is skipped.
func findBareObject(text string) []candidate {
	var out []candidate
	from := 0
	for from < len(text) {
		i := strings.IndexByte(text[from:], '{')
		if i == -1 {
			break
		}
		start := from + i
		end := matchBrace(text[start:])
		if end <= 0 {
			from = start + 1
			continue
		}
		span := text[start : start+end+1]
		out = append(out, candidate{raw: span, body: span, format: formatJSON})
		from = start + end + 1
	}
	return out
}

// matchBrace returns the index of the brace closing s[0], or -1.
func matchBrace(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseBlock decodes a candidate into an object. JSON that fails strict
// decoding is retried after stripping comments and trailing commas.
func parseBlock(c candidate) (map[string]any, bool) {
	body := strings.TrimSpace(c.body)
	if body == "" {
		return nil, false
	}

	var fields map[string]any
	if c.format == formatYAML {
		if err := yaml.Unmarshal([]byte(body), &fields); err != nil || len(fields) == 0 {
			return nil, false
		}
		return fields, true
	}

	if err := json.Unmarshal([]byte(body), &fields); err == nil && len(fields) > 0 {
		return fields, true
	}
	fields = nil
	if err := json.Unmarshal(jsonc.ToJSON([]byte(body)), &fields); err == nil && len(fields) > 0 {
		return fields, true
	}
	return nil, false
}
