package middleware

import "testing"

// TestNormalizePath проверяет сведение путей с идентификаторами к шаблону.
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/api/v1/notes", "/api/v1/notes"},
		{"/api/v1/notes/a1b2c3d4-e5f6-7890-abcd-ef0123456789", "/api/v1/notes/{id}"},
		{"/api/v1/notes/что-угодно", "/api/v1/notes/{id}"},
		{"/api/v1/unknown", "/api/v1/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
			}
		})
	}
}
