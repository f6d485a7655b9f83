package gateway_test

import (
	"net/http"
	"testing"

	"github.com/flemzord/taleturn/internal/gateway"
	"github.com/flemzord/taleturn/internal/provider/providertest"
	"github.com/flemzord/taleturn/internal/security"
)

func TestAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gateway.Config{Auth: gateway.AuthConfig{
		BearerToken: "secret-token",
		BasicUser:   "host",
		BasicPass:   "hunter22",
	}}, providertest.Sequence(providertest.ChatResponse("unused")))

	tests := []struct {
		name  string
		path  string
		setup func(*http.Request)
		want  int
	}{
		{"health_is_public", "/health", nil, http.StatusOK},
		{"metrics_is_public", "/metrics", nil, http.StatusOK},
		{"status_needs_auth", "/status", nil, http.StatusUnauthorized},
		{"bearer", "/status", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-token") }, http.StatusOK},
		{"wrong_bearer", "/status", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"basic", "/status", func(r *http.Request) { r.SetBasicAuth("host", "hunter22") }, http.StatusOK},
		{"wrong_basic", "/status", func(r *http.Request) { r.SetBasicAuth("host", "guess") }, http.StatusUnauthorized},
		{"query_token_only_on_websocket", "/status?access_token=secret-token", nil, http.StatusUnauthorized},
		{"websocket_needs_auth", "/ws/sessions/s1", nil, http.StatusUnauthorized},
		{"round_needs_auth", "/api/sessions/s1/rounds/1", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, h.srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.setup != nil {
				tt.setup(req)
			}
			resp, err := h.srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	var failures int
	for _, e := range h.events() {
		if e.Type == security.EventAuthFailure {
			failures++
			if e.Metadata["path"] == "" {
				t.Errorf("auth failure without path: %+v", e)
			}
		}
	}
	if failures != 6 {
		t.Errorf("auth failure events = %d, want 6", failures)
	}
}

func TestAuth_WebsocketQueryToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gateway.Config{Auth: gateway.AuthConfig{BearerToken: "secret-token"}},
		providertest.Sequence(providertest.ChatResponse("unused")))

	h.subscribe(t, "s1", "access_token=secret-token")
}
