package config_test

import (
	"testing"

	"github.com/hmorven/clarivox/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	b := &config.Config{}
	if d := config.Diff(a, b); d.Any() {
		t.Errorf("Diff() of identical configs = %+v, want no changes", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	a.Server.LogLevel = config.LogInfo
	b := &config.Config{}
	b.Server.LogLevel = config.LogDebug

	d := config.Diff(a, b)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.PipelineChanged || d.StorageChanged || d.ServerChanged {
		t.Errorf("unrelated sections marked changed: %+v", d)
	}
}

func TestDiff_PipelineSections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"recognizer", func(c *config.Config) { c.Recognizer.Name = "llm" }},
		{"resolver markers", func(c *config.Config) { c.Resolver.Markers = []string{"scratch that"} }},
		{"gazetteer", func(c *config.Config) { c.Lexicons.Gazetteer.Medications = []string{"insulin"} }},
		{"safety", func(c *config.Config) { c.Safety.DangerPhrases = []string{"severe"} }},
		{"timeout", func(c *config.Config) { c.Pipeline.MaxParallel = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &config.Config{}
			b := &config.Config{}
			tt.mutate(b)
			if d := config.Diff(a, b); !d.PipelineChanged {
				t.Errorf("PipelineChanged = false after %s change", tt.name)
			}
		})
	}
}

func TestDiff_StorageAndServer(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	b := &config.Config{}
	b.Storage.PostgresDSN = "postgres://localhost/clarivox"
	b.Server.ListenAddr = ":9090"

	d := config.Diff(a, b)
	if !d.StorageChanged {
		t.Error("StorageChanged = false, want true")
	}
	if !d.ServerChanged {
		t.Error("ServerChanged = false, want true")
	}
}
