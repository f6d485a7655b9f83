package provider_test

import (
	"testing"

	"github.com/flemzord/taleturn/internal/provider"
)

func TestResolveRoutes(t *testing.T) {
	t.Parallel()

	primary := provider.AIConfig{Endpoint: "https://primary.example/v1"}
	parser := provider.AIConfig{Endpoint: "https://parser.example/v1", Provider: provider.ProviderAnthropic}

	t.Run("single_config_serves_both", func(t *testing.T) {
		t.Parallel()
		r, err := provider.ResolveRoutes(primary, nil)
		if err != nil {
			t.Fatalf("ResolveRoutes: %v", err)
		}
		if !r.Shared {
			t.Error("Shared = false")
		}
		if r.For(provider.RoleNarrative).Endpoint != primary.Endpoint || r.For(provider.RoleParser).Endpoint != primary.Endpoint {
			t.Errorf("routes = %+v", r)
		}
	})

	t.Run("two_configs_routed_independently", func(t *testing.T) {
		t.Parallel()
		r, err := provider.ResolveRoutes(primary, &parser)
		if err != nil {
			t.Fatalf("ResolveRoutes: %v", err)
		}
		if r.Shared {
			t.Error("Shared = true")
		}
		if r.For(provider.RoleNarrative).Endpoint != primary.Endpoint {
			t.Errorf("narrative endpoint = %q", r.For(provider.RoleNarrative).Endpoint)
		}
		if r.For(provider.RoleParser).Endpoint != parser.Endpoint {
			t.Errorf("parser endpoint = %q", r.For(provider.RoleParser).Endpoint)
		}
	})

	t.Run("invalid_configs", func(t *testing.T) {
		t.Parallel()
		if _, err := provider.ResolveRoutes(provider.AIConfig{}, nil); !provider.IsConfig(err) {
			t.Errorf("missing endpoint error = %v, want ErrConfig", err)
		}
		bad := provider.AIConfig{Endpoint: "ftp://nope"}
		if _, err := provider.ResolveRoutes(primary, &bad); !provider.IsConfig(err) {
			t.Errorf("bad parser scheme error = %v, want ErrConfig", err)
		}
		tmpl := provider.AIConfig{Endpoint: "https://parser.example/v1", BodyTemplate: `{"prompt": {{prompt}}, "extra": }`}
		if _, err := provider.ResolveRoutes(primary, &tmpl); !provider.IsConfig(err) {
			t.Errorf("broken body template error = %v, want ErrConfig", err)
		}
		good := provider.AIConfig{Endpoint: "https://parser.example/v1", BodyTemplate: `{"model": "{{model}}", "input": "{{prompt}}"}`}
		if _, err := provider.ResolveRoutes(primary, &good); err != nil {
			t.Errorf("valid body template rejected: %v", err)
		}
	})
}
