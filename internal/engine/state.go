package engine

// State is a step of the per-turn state machine.
type State string

// Turn states. NarrativeFailed is terminal; ParserFailed still completes
// the turn.
const (
	StateBuildingNarrativePrompt State = "BUILDING_NARRATIVE_PROMPT"
	StateCallingNarrative        State = "CALLING_NARRATIVE"
	StateNarrativeReady          State = "NARRATIVE_READY"
	StateBuildingParserPrompt    State = "BUILDING_PARSER_PROMPT"
	StateCallingParser           State = "CALLING_PARSER"
	StateDone                    State = "DONE"
	StateNarrativeFailed         State = "NARRATIVE_FAILED"
	StateParserFailed            State = "PARSER_FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateNarrativeFailed || s == StateParserFailed
}

// stateTrace records the states a turn passed through.
type stateTrace struct {
	states  []State
	onEnter func(State)
}

func (t *stateTrace) enter(s State) {
	t.states = append(t.states, s)
	if t.onEnter != nil {
		t.onEnter(s)
	}
}

func (t *stateTrace) list() []State {
	return append([]State(nil), t.states...)
}
