package seed

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderLoad(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "services.yaml")

	yamlContent := `---
services:
  - owner: team-a
    name: Checkout API
    algorithm: weighted_round_robin
    rateLimit:
      limit: 100
      windowSeconds: 60
    instances:
      - name: eu-1
        url: http://10.0.0.1:8080
        weight: 2
      - url: http://10.0.0.2:8080
`

	err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(yamlPath)
	file, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(file.Services) != 1 {
		t.Fatalf("Load() returned %d services, want 1", len(file.Services))
	}
	svc := file.Services[0]
	if svc.Owner != "team-a" || svc.Name != "Checkout API" || svc.Algorithm != "weighted_round_robin" {
		t.Errorf("unexpected service entry: %+v", svc)
	}
	if svc.RateLimit == nil || svc.RateLimit.Limit != 100 || svc.RateLimit.WindowSeconds != 60 {
		t.Errorf("unexpected rate limit: %+v", svc.RateLimit)
	}
	if len(svc.Instances) != 2 {
		t.Fatalf("got %d instances, want 2", len(svc.Instances))
	}
	if svc.Instances[0].DisplayName != "eu-1" || svc.Instances[0].Weight != 2 {
		t.Errorf("unexpected first instance: %+v", svc.Instances[0])
	}
}

func TestLoaderLoadWithTemplateVariables(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "services.yaml")

	yamlContent := `---
services:
  - name: api
    instances:
      - url: http://{{ API_HOST }}:8080
`

	err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(yamlPath)
	loader.lookup = func(key string) (string, bool) {
		if key == "API_HOST" {
			return "api.internal", true
		}
		return "", false
	}
	file, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := file.Services[0].Instances[0].URL; got != "http://api.internal:8080" {
		t.Errorf("instance url = %q, want http://api.internal:8080", got)
	}
}

func TestLoaderLoadFileNotFound(t *testing.T) {
	loader := NewLoader("/nonexistent/path/services.yaml")
	_, err := loader.Load()
	if err == nil {
		t.Error("Load() with non-existent file should return error")
	}
}

func TestLoaderLoadInvalidYAML(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(yamlPath, []byte("services: [\n"), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	if _, err := NewLoader(yamlPath).Load(); err == nil {
		t.Error("Load() with broken yaml should return error")
	}
}

func TestExpandTemplateVariables(t *testing.T) {
	l := &Loader{lookup: func(key string) (string, bool) {
		if key == "HOST" {
			return "10.0.0.9", true
		}
		return "", false
	}}

	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "single template variable",
			input:    []byte("url: http://{{HOST}}"),
			expected: "url: http://10.0.0.9",
		},
		{
			name:     "unset variable",
			input:    []byte("url: {{MISSING}}"),
			expected: "url: ",
		},
		{
			name:     "no template variables",
			input:    []byte("plain text"),
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := l.expandTemplateVariables(tt.input)
			if string(result) != tt.expected {
				t.Errorf("expandTemplateVariables() = %q, want %q", string(result), tt.expected)
			}
		})
	}
}
