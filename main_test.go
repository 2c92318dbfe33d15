package main

import (
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	svc "github.com/voxprep/backend/services"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins string
		requestOrigin  string
		expected       bool
	}{
		{
			name:           "Dev front-end allowed",
			allowedOrigins: "http://localhost:5173,https://app.voxprep.example",
			requestOrigin:  "http://localhost:5173",
			expected:       true,
		},
		{
			name:           "Production front-end allowed",
			allowedOrigins: "http://localhost:5173,https://app.voxprep.example",
			requestOrigin:  "https://app.voxprep.example",
			expected:       true,
		},
		{
			name:           "Unknown origin denied",
			allowedOrigins: "https://app.voxprep.example",
			requestOrigin:  "https://evil.example",
			expected:       false,
		},
		{
			name:           "Scheme mismatch denied",
			allowedOrigins: "https://app.voxprep.example",
			requestOrigin:  "http://app.voxprep.example",
			expected:       false,
		},
		{
			name:           "Port mismatch denied",
			allowedOrigins: "http://localhost:5173",
			requestOrigin:  "http://localhost:8080",
			expected:       false,
		},
		{
			name:           "Whitespace around configured origins tolerated",
			allowedOrigins: "http://localhost:5173, https://app.voxprep.example",
			requestOrigin:  "https://app.voxprep.example",
			expected:       true,
		},
		{
			name:           "No allowlist configured denies everything",
			allowedOrigins: "",
			requestOrigin:  "http://localhost:5173",
			expected:       false,
		},
		{
			name:           "Missing Origin header denied",
			allowedOrigins: "https://app.voxprep.example",
			requestOrigin:  "",
			expected:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			viper.Set("websocket.allowed_origins", tt.allowedOrigins)

			// The live session stream is the only websocket surface.
			req := httptest.NewRequest("GET", "/api/v1/sessions/abc/live?entity_id=ent-1", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}

			allowed := viper.GetString("websocket.allowed_origins")
			if got := svc.CheckOrigin(req, allowed); got != tt.expected {
				t.Errorf("CheckOrigin() = %v, expected %v for origin %q with allowlist %q",
					got, tt.expected, tt.requestOrigin, tt.allowedOrigins)
			}
		})
	}
}
