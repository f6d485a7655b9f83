// Package prompt assembles the narrative and parser prompts of a turn.
// Building is pure: it never touches the network or a store, and the
// same inputs always yield the same text.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/flemzord/taleturn/internal/game"
)

//go:embed templates/default_rules.md
var defaultRules string

//go:embed templates/narrative_contract.md
var narrativeContract string

//go:embed templates/parser_contract.tmpl
var parserContractSource string

var parserContract = template.Must(template.New("parser_contract").Parse(parserContractSource))

// Section headings that mark each prompt variant's output contract.
const (
	NarrativeContractHeading = "## Output Format (Narrative)"
	ParserContractHeading    = "## Output Format (Structured)"
)

// DefaultRules returns the built-in ruleset used when a request carries
// no rules of its own.
func DefaultRules() string {
	return defaultRules
}

// BuildNarrative renders the narrative prompt for req. rulesText replaces
// the built-in ruleset when non-empty; lore, when non-empty, is injected
// after the world context.
func BuildNarrative(req game.InferenceRequest, rulesText, lore string) string {
	var b strings.Builder

	writeHeader(&b, req.Round)
	writeRules(&b, rulesText)
	writeWorld(&b, req.WorldInit)
	if lore = strings.TrimSpace(lore); lore != "" {
		b.WriteString(lore)
		b.WriteString("\n\n")
	}
	writeActiveEvents(&b, req.ActiveEvents)
	writeDecisions(&b, req.Decisions, req.Roster())
	b.WriteString(strings.TrimSpace(narrativeContract))
	b.WriteString("\n")

	return b.String()
}

// ParserInput is what the parser call sees: the narrative just produced
// and the roster it must account for. The original decisions are not
// part of it.
type ParserInput struct {
	Round     int
	Narrative string
	Roster    []game.Entity
}

// BuildParser renders the parser prompt.
func BuildParser(in ParserInput) (string, error) {
	var b strings.Builder

	writeHeader(&b, in.Round)
	b.WriteString("## Narrative\n\n")
	b.WriteString(strings.TrimSpace(in.Narrative))
	b.WriteString("\n\n")
	writeRoster(&b, "## Current Roster", in.Roster)

	var contract bytes.Buffer
	if err := parserContract.Execute(&contract, struct{ EntityCount int }{len(in.Roster)}); err != nil {
		return "", fmt.Errorf("prompt: render parser contract: %w", err)
	}
	b.WriteString(strings.TrimSpace(contract.String()))
	b.WriteString("\n")
	return b.String(), nil
}

func writeHeader(b *strings.Builder, round int) {
	fmt.Fprintf(b, "# Round %d\n\n", round)
}

func writeRules(b *strings.Builder, rulesText string) {
	rules := strings.TrimSpace(rulesText)
	if rules == "" {
		b.WriteString(strings.TrimSpace(defaultRules))
	} else {
		b.WriteString("## Game Rules\n\n")
		b.WriteString(rules)
	}
	b.WriteString("\n\n")
}

func writeWorld(b *strings.Builder, w *game.WorldInit) {
	if w == nil {
		return
	}
	if story := strings.TrimSpace(w.BackgroundStory); story != "" {
		b.WriteString("## Background\n\n")
		b.WriteString(story)
		b.WriteString("\n\n")
	}
	writeRoster(b, "## Entities", w.Entities)
	if w.Omen != nil && w.Omen.Name != "" {
		b.WriteString("## Omen\n\n")
		b.WriteString(w.Omen.Name)
		if w.Omen.Description != "" {
			b.WriteString(": ")
			b.WriteString(w.Omen.Description)
		}
		b.WriteString("\n\n")
	}
}

func writeRoster(b *strings.Builder, heading string, roster []game.Entity) {
	if len(roster) == 0 {
		return
	}
	b.WriteString(heading)
	b.WriteString("\n\n")
	for i, e := range roster {
		fmt.Fprintf(b, "- Player %d: %s (id %s), cash %s", i+1, entityName(e, i), e.ID, formatNumber(e.Cash))
		if e.PassiveIncome != 0 || e.PassiveExpense != 0 {
			fmt.Fprintf(b, ", passive income %s, passive expense %s",
				formatNumber(e.PassiveIncome), formatNumber(e.PassiveExpense))
		}
		if attrs := formatAttributes(e.Attributes); attrs != "" {
			b.WriteString(", attributes ")
			b.WriteString(attrs)
		}
		b.WriteString("\n")
		if story := strings.TrimSpace(e.Backstory); story != "" {
			b.WriteString("  Backstory: ")
			b.WriteString(story)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}

func writeActiveEvents(b *strings.Builder, events []game.ActiveEvent) {
	if len(events) == 0 {
		return
	}
	b.WriteString("## Active Events\n\n")
	for _, ev := range events {
		fmt.Fprintf(b, "- [%s] %s (effective for %d rounds, progress %d%% (%d/%d), last updated round %d)\n",
			ev.Type, strings.TrimSpace(ev.Content), ev.EffectiveRounds,
			ev.Progress.Percent(), ev.Progress.Current, ev.Progress.Total, ev.Progress.LastUpdatedRound)
	}
	b.WriteString("\n")
}

func writeDecisions(b *strings.Builder, decisions []game.Decision, roster []game.Entity) {
	b.WriteString("## Decisions\n\n")
	if len(decisions) == 0 {
		b.WriteString("No decisions were submitted this round.\n\n")
		return
	}
	for _, d := range decisions {
		name := fmt.Sprintf("Player %d", d.ActorIndex+1)
		if d.ActorIndex >= 0 && d.ActorIndex < len(roster) {
			name = fmt.Sprintf("Player %d (%s)", d.ActorIndex+1, entityName(roster[d.ActorIndex], d.ActorIndex))
		}
		fmt.Fprintf(b, "### %s\n", name)
		action := strings.TrimSpace(d.Action)
		if action == "" {
			action = "(no action)"
		}
		fmt.Fprintf(b, "Action: %s\n", action)
		if len(d.SelectedOptions) > 0 {
			fmt.Fprintf(b, "Selected options: %s\n", strings.Join(d.SelectedOptions, ", "))
		}
		if payload := strings.TrimSpace(string(d.Payload)); payload != "" && payload != "null" {
			fmt.Fprintf(b, "Structured action: %s\n", payload)
		}
		if override := strings.TrimSpace(d.HostOverride); override != "" {
			fmt.Fprintf(b, "Host override: %s\n", override)
		}
		b.WriteString("\n")
	}
}

func entityName(e game.Entity, index int) string {
	if e.Name != "" {
		return e.Name
	}
	return "Player " + strconv.Itoa(index+1)
}

// formatAttributes renders attributes sorted by name.
func formatAttributes(attrs map[string]float64) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + formatNumber(attrs[k])
	}
	return strings.Join(parts, ", ")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
