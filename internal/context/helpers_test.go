package ctxengine_test

import (
	"fmt"
	"strings"

	"github.com/flemzord/taleturn/internal/provider"
)

// mockEstimator implements ctxengine.TokenEstimator for tests.
type mockEstimator struct{}

func (m *mockEstimator) Estimate(text string) int { return len(text) }

// makeRounds creates n rounds, each a user prompt with a "# Round N"
// header followed by an assistant reply of replyLen bytes.
func makeRounds(n, replyLen int) []provider.LLMMessage {
	msgs := make([]provider.LLMMessage, 0, 2*n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs,
			provider.LLMMessage{Role: provider.MessageRoleUser, Content: fmt.Sprintf("# Round %d\ndecide", i)},
			provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: fmt.Sprintf("**Storm %d** %s", i, strings.Repeat("x", replyLen))},
		)
	}
	return msgs
}
