package security

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		limit   int64
		depth   int
		wantErr error
	}{
		{name: "valid", body: `{"session_id":"s1","round":2}`},
		{name: "too_large", body: `{"a":"` + strings.Repeat("x", 64) + `"}`, limit: 16, wantErr: ErrBodyTooLarge},
		{name: "too_deep", body: `{"a":{"b":{"c":[1]}}}`, depth: 3, wantErr: ErrJSONTooDeep},
		{name: "malformed", body: `{"a":`, wantErr: ErrInvalidJSON},
		{name: "wrong_shape", body: `[1,2]`, wantErr: ErrInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var v struct {
				SessionID string `json:"session_id"`
				Round     int    `json:"round"`
			}
			err := DecodeJSON(strings.NewReader(tt.body), tt.limit, tt.depth, &v)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("DecodeJSON: %v", err)
				}
				if v.SessionID != "s1" || v.Round != 2 {
					t.Errorf("decoded %+v", v)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
