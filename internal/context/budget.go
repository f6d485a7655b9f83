package ctxengine

import (
	"math"
	"unicode"

	"github.com/flemzord/taleturn/internal/provider"
)

// TokenEstimator estimates the token count of a string. Estimates are used
// for relative budgeting only and never match provider accounting exactly.
type TokenEstimator interface {
	Estimate(text string) int
}

// DefaultDenseCharsPerToken is the ideographic characters-per-token ratio.
const DefaultDenseCharsPerToken = 1.5

// ScriptEstimator weights dense-script (Han) characters fractionally and
// counts one token per alphabetic word and per run of digits. Punctuation
// and whitespace are free.
type ScriptEstimator struct {
	DenseCharsPerToken float64
}

// NewScriptEstimator creates a ScriptEstimator. A ratio <= 0 defaults
// to 1.5.
func NewScriptEstimator(denseCharsPerToken float64) *ScriptEstimator {
	if denseCharsPerToken <= 0 {
		denseCharsPerToken = DefaultDenseCharsPerToken
	}
	return &ScriptEstimator{DenseCharsPerToken: denseCharsPerToken}
}

// Estimate returns the estimated token count for the given text.
func (e *ScriptEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	ratio := e.DenseCharsPerToken
	if ratio <= 0 {
		ratio = DefaultDenseCharsPerToken
	}

	var dense, words, numbers int
	inWord, inNumber := false, false
	for _, r := range text {
		isLetter := r < unicode.MaxASCII && unicode.IsLetter(r)
		isDigit := r >= '0' && r <= '9'

		if isLetter && !inWord {
			words++
		}
		if isDigit && !inNumber {
			numbers++
		}
		inWord, inNumber = isLetter, isDigit

		if unicode.Is(unicode.Han, r) {
			dense++
		}
	}
	return int(math.Ceil(float64(dense)/ratio)) + words + numbers
}

// CharEstimator estimates tokens using a simple characters-per-token ratio.
// A ratio of ~4 works well for English; ~3 for French or other Latin languages.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0 (English approximation).
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for the given text.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := float64(len(text)) / e.CharsPerToken
	// Always round up to avoid underestimation.
	return int(tokens) + 1
}

// messageOverhead approximates role and formatting tokens per message.
const messageOverhead = 4

// EstimateMessages returns the total estimated tokens for a slice of LLM messages.
func EstimateMessages(estimator TokenEstimator, messages []provider.LLMMessage) int {
	total := 0
	for i := range messages {
		total += messageOverhead + estimator.Estimate(messages[i].Content)
	}
	return total
}

// Interface guards.
var (
	_ TokenEstimator = (*ScriptEstimator)(nil)
	_ TokenEstimator = (*CharEstimator)(nil)
)
