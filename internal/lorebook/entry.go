// Package lorebook keeps per-session, keyword-triggered memory entries and
// injects the ones a prompt mentions under a token budget.
package lorebook

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/taleturn/internal/game"
)

// Entry categories.
const (
	CategoryEntity     = "entity"
	CategoryBackground = "background"
	CategoryOmen       = "omen"
	CategoryEvent      = "event"
	CategoryCustom     = "custom"
)

// Priorities of seeded and captured entries. Higher fires first.
const (
	PriorityEntity     = 80
	PriorityOmen       = 70
	PriorityEvent      = 60
	PriorityBackground = 50
)

const (
	backgroundContentRunes = 200
	backgroundKeywords     = 5
)

// Entry is one keyword-triggered memory.
type Entry struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	Content  string   `json:"content"`
	Priority int      `json:"priority"`
	Enabled  bool     `json:"enabled"`
	Category string   `json:"category"`

	// MaxActivations caps how often the entry fires; 0 means unlimited.
	MaxActivations  int `json:"max_activations,omitempty"`
	ActivationCount int `json:"activation_count"`
}

// exhausted reports whether the entry reached its activation cap.
func (e *Entry) exhausted() bool {
	return e.MaxActivations > 0 && e.ActivationCount >= e.MaxActivations
}

// matches reports whether text contains any keyword. Matching ignores
// case; text must already be lowercased.
func (e *Entry) matches(lowerText string) bool {
	for _, kw := range e.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

// seedEntries builds the initial entries of a session from world data.
func seedEntries(world *game.WorldInit) []Entry {
	if world == nil {
		return nil
	}
	var out []Entry

	for i, ent := range world.Entities {
		out = append(out, entityEntry(i, ent))
	}

	for i, para := range paragraphs(world.BackgroundStory) {
		kws := storyKeywords(para, backgroundKeywords)
		if len(kws) == 0 {
			continue
		}
		out = append(out, Entry{
			ID:       fmt.Sprintf("background-%d", i),
			Keywords: kws,
			Content:  truncateRunes(para, backgroundContentRunes),
			Priority: PriorityBackground,
			Enabled:  true,
			Category: CategoryBackground,
		})
	}

	if o := world.Omen; o != nil && strings.TrimSpace(o.Name) != "" {
		content := "Omen of the session: " + o.Name
		if o.Description != "" {
			content += ". " + o.Description
		}
		out = append(out, Entry{
			ID:       "omen",
			Keywords: []string{o.Name, "omen", "oracle", "hexagram", "fate"},
			Content:  content,
			Priority: PriorityOmen,
			Enabled:  true,
			Category: CategoryOmen,
		})
	}
	return out
}

func entityEntry(index int, ent game.Entity) Entry {
	label := fmt.Sprintf("Player %d", index+1)
	name := ent.Name
	if name == "" {
		name = label
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s) started with %.0f cash.", name, ent.ID, label, ent.Cash)
	if ent.Backstory != "" {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(ent.Backstory))
	}

	kws := []string{label}
	if ent.Name != "" {
		kws = append(kws, ent.Name)
	}
	if ent.ID != "" {
		kws = append(kws, ent.ID)
	}
	return Entry{
		ID:       "entity-" + entityKey(index, ent),
		Keywords: kws,
		Content:  b.String(),
		Priority: PriorityEntity,
		Enabled:  true,
		Category: CategoryEntity,
	}
}

func entityKey(index int, ent game.Entity) string {
	if ent.ID != "" {
		return ent.ID
	}
	return fmt.Sprintf("%d", index+1)
}

// paragraphs splits a story on blank lines, falling back to single
// newlines when the story has no blank lines.
func paragraphs(story string) []string {
	story = strings.TrimSpace(strings.ReplaceAll(story, "\r\n", "\n"))
	if story == "" {
		return nil
	}
	sep := "\n\n"
	if !strings.Contains(story, sep) {
		sep = "\n"
	}
	var out []string
	for _, p := range strings.Split(story, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	quotedPattern = regexp.MustCompile(`"([^"\n]{2,40})"|“([^”\n]{2,40})”|「([^」\n]{2,40})」|『([^』\n]{2,40})』|《([^》\n]{2,40})》`)
	capsPattern   = regexp.MustCompile(`\b[A-Z][a-zA-Z'-]{2,}(?:\s+[A-Z][a-zA-Z'-]{2,})*`)
	suffixPattern = regexp.MustCompile(`\p{Han}{1,6}(?:帝国|王朝|公司|集团|国|城|族|帮|会|山|河|岛|镇|村|港)`)
)

// sentenceStarters are capitalized words that are not names.
var sentenceStarters = map[string]struct{}{
	"The": {}, "And": {}, "But": {}, "When": {}, "After": {}, "Before": {},
	"Once": {}, "This": {}, "That": {}, "These": {}, "Those": {}, "They": {},
	"There": {}, "Then": {}, "Its": {}, "Their": {}, "With": {}, "From": {},
	"Now": {}, "For": {}, "Our": {}, "His": {}, "Her": {},
}

// storyKeywords returns up to limit proper-noun-like phrases of text,
// longest first.
func storyKeywords(text string, limit int) []string {
	seen := make(map[string]struct{})
	var kws []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) < 2 {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		kws = append(kws, s)
	}

	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		add(strings.Join(m[1:], ""))
	}
	for _, m := range capsPattern.FindAllString(text, -1) {
		words := strings.Fields(m)
		for len(words) > 0 {
			if _, skip := sentenceStarters[words[0]]; !skip {
				break
			}
			words = words[1:]
		}
		if len(words) > 0 {
			add(strings.Join(words, " "))
		}
	}
	for _, m := range suffixPattern.FindAllString(text, -1) {
		add(m)
	}

	sort.SliceStable(kws, func(i, j int) bool {
		return utf8.RuneCountInString(kws[i]) > utf8.RuneCountInString(kws[j])
	})
	if len(kws) > limit {
		kws = kws[:limit]
	}
	return kws
}

// capturedEntries turns a structured turn result into event entries.
func capturedEntries(round int, data *game.TurnData) []Entry {
	if data == nil {
		return nil
	}
	var out []Entry
	for i, ev := range data.Events {
		if !ev.Significant() || strings.TrimSpace(ev.Title) == "" {
			continue
		}
		content := fmt.Sprintf("Round %d: %s", round, ev.Title)
		if ev.Description != "" {
			content += ". " + ev.Description
		}
		out = append(out, Entry{
			ID:       fmt.Sprintf("event-r%d-%d", round, i),
			Keywords: append([]string{ev.Title}, ev.Targets...),
			Content:  content,
			Priority: PriorityEvent,
			Enabled:  true,
			Category: CategoryEvent,
		})
	}
	for i, a := range data.Achievements {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		content := fmt.Sprintf("Round %d achievement: %s", round, a.Title)
		if a.EntityID != "" {
			content = fmt.Sprintf("Round %d achievement of %s: %s", round, a.EntityID, a.Title)
		}
		if a.Description != "" {
			content += ". " + a.Description
		}
		kws := []string{a.Title}
		if a.EntityID != "" {
			kws = append(kws, a.EntityID)
		}
		out = append(out, Entry{
			ID:       fmt.Sprintf("achievement-r%d-%d", round, i),
			Keywords: kws,
			Content:  content,
			Priority: PriorityEvent,
			Enabled:  true,
			Category: CategoryEvent,
		})
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
