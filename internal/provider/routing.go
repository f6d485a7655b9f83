package provider

import "fmt"

// Routes holds the configuration each half of a turn is sent to.
type Routes struct {
	Narrative AIConfig
	Parser    AIConfig
	// Shared is true when one descriptor serves both roles.
	Shared bool
}

// For returns the configuration for the given role.
func (r Routes) For(role Role) AIConfig {
	if role == RoleParser {
		return r.Parser
	}
	return r.Narrative
}

// ResolveRoutes decides, once per turn, which configuration each call
// uses. With a nil parser config both calls use primary; otherwise the
// two calls are routed independently.
func ResolveRoutes(primary AIConfig, parser *AIConfig) (Routes, error) {
	if err := primary.Validate(); err != nil {
		return Routes{}, fmt.Errorf("narrative config: %w", err)
	}
	if parser == nil {
		return Routes{Narrative: primary, Parser: primary, Shared: true}, nil
	}
	if err := parser.Validate(); err != nil {
		return Routes{}, fmt.Errorf("parser config: %w", err)
	}
	return Routes{Narrative: primary, Parser: *parser}, nil
}
