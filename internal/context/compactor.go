package ctxengine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/taleturn/internal/provider"
)

// synopsisHeader opens the synthetic system message holding round synopses.
const synopsisHeader = "[Earlier rounds]"

var (
	roundPattern   = regexp.MustCompile(`(?i)\bround\s+(\d+)|第\s*(\d+)\s*回合`)
	keywordPattern = regexp.MustCompile(`【([^】]+)】|\*\*([^*\n]+)\*\*`)
)

// Round is the group of messages belonging to one turn.
type Round struct {
	// Number is parsed from the user prompt; 0 when absent.
	Number   int
	Messages []provider.LLMMessage
}

// GroupRounds splits history into rounds. A round starts at each user
// message; consecutive groups carrying the same round number are merged
// so a turn's narrative and parser exchanges stay together. Messages
// before the first user message are returned as the preamble.
func GroupRounds(history []provider.LLMMessage) (preamble []provider.LLMMessage, rounds []Round) {
	for _, m := range history {
		if m.Role == provider.MessageRoleUser {
			n := RoundNumber(m.Content)
			if last := len(rounds) - 1; last >= 0 && n != 0 && rounds[last].Number == n {
				rounds[last].Messages = append(rounds[last].Messages, m)
				continue
			}
			rounds = append(rounds, Round{Number: n, Messages: []provider.LLMMessage{m}})
			continue
		}
		if len(rounds) == 0 {
			preamble = append(preamble, m)
			continue
		}
		last := len(rounds) - 1
		rounds[last].Messages = append(rounds[last].Messages, m)
	}
	return preamble, rounds
}

// RoundNumber extracts the round number from a prompt header, or 0.
func RoundNumber(text string) int {
	m := roundPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil {
			return n
		}
	}
	return 0
}

// RoundCompactor bounds history by keeping the most recent whole rounds
// and folding older rounds into one synopsis line each.
type RoundCompactor struct {
	estimator TokenEstimator
	config    CompactionConfig
}

// NewRoundCompactor creates a RoundCompactor.
func NewRoundCompactor(estimator TokenEstimator, cfg CompactionConfig) *RoundCompactor {
	if estimator == nil {
		estimator = NewScriptEstimator(0)
	}
	return &RoundCompactor{estimator: estimator, config: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (c *RoundCompactor) Config() CompactionConfig {
	return c.config
}

// ShouldCompact reports whether history exceeds the token ceiling.
func (c *RoundCompactor) ShouldCompact(history []provider.LLMMessage) bool {
	if c.config.MaxTokens <= 0 {
		return false
	}
	return EstimateMessages(c.estimator, history) > c.config.MaxTokens
}

// Compact returns history unchanged when it fits under MaxTokens.
// Otherwise rounds are scanned from the most recent backward and kept
// whole while their cumulative estimate stays within the retained budget;
// every older round becomes a synopsis line. All synopses, including
// those carried from an earlier compaction, are prepended as a single
// system message. The input slice is never mutated.
func (c *RoundCompactor) Compact(history []provider.LLMMessage) []provider.LLMMessage {
	if !c.ShouldCompact(history) {
		return history
	}

	preamble, rounds := GroupRounds(history)
	budget := c.config.Budget()

	keepFrom := len(rounds)
	used := 0
	for i := len(rounds) - 1; i >= 0; i-- {
		cost := EstimateMessages(c.estimator, rounds[i].Messages)
		if used+cost > budget {
			break
		}
		used += cost
		keepFrom = i
	}

	var lines []string
	var extra []provider.LLMMessage
	for _, m := range preamble {
		if carried, ok := synopsisLines(m); ok {
			lines = append(lines, carried...)
			continue
		}
		extra = append(extra, m)
	}
	for _, r := range rounds[:keepFrom] {
		lines = append(lines, c.synopsis(r))
	}

	result := make([]provider.LLMMessage, 0, 1+len(extra)+len(history))
	if len(lines) > 0 {
		result = append(result, provider.LLMMessage{
			Role:    provider.MessageRoleSystem,
			Content: synopsisHeader + "\n" + strings.Join(lines, "\n"),
		})
	}
	result = append(result, extra...)
	for _, r := range rounds[keepFrom:] {
		result = append(result, r.Messages...)
	}
	return result
}

// synopsisLines returns the lines of a synopsis message from an earlier
// compaction.
func synopsisLines(m provider.LLMMessage) ([]string, bool) {
	if m.Role != provider.MessageRoleSystem || !strings.HasPrefix(m.Content, synopsisHeader) {
		return nil, false
	}
	var lines []string
	for _, l := range strings.Split(strings.TrimPrefix(m.Content, synopsisHeader), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, true
}

// synopsis renders one round as "- Round N: summary".
func (c *RoundCompactor) synopsis(r Round) string {
	label := "- Earlier round"
	if r.Number > 0 {
		label = "- Round " + strconv.Itoa(r.Number)
	}

	var reply string
	for _, m := range r.Messages {
		if m.Role == provider.MessageRoleAssistant {
			reply = m.Content
			break
		}
	}

	if kws := Keywords(reply, c.config.SynopsisKeywords); len(kws) > 0 {
		return label + ": " + strings.Join(kws, ", ")
	}
	excerpt := truncateRunes(strings.Join(strings.Fields(reply), " "), c.config.SynopsisRunes)
	if excerpt == "" {
		return label + ": (no reply)"
	}
	return label + ": " + excerpt
}

// Keywords returns up to limit distinct emphasized phrases (【...】 or
// **...**) in order of appearance.
func Keywords(text string, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range keywordPattern.FindAllStringSubmatch(text, -1) {
		kw := strings.TrimSpace(m[1] + m[2])
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) == limit {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
