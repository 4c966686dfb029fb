package main

import (
	"bytes"
	"slices"
	"testing"

	"github.com/MrWong99/ipovoice/internal/config"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s/gemini"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s/openai"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != version+"\n" {
		t.Errorf("output = %q, want %q", got, version+"\n")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "mcp-server", "version"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing subcommand %q in %v", want, names)
		}
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if got := reg.S2SNames(); !slices.Equal(got, []string{config.ProviderGeminiLive, config.ProviderGeminiVertex, config.ProviderOpenAI}) {
		t.Errorf("S2SNames() = %v", got)
	}

	p, err := reg.CreateS2S(config.ModelConfig{Name: config.ProviderGeminiLive, APIKey: "k", Model: "models/test"})
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if _, ok := p.(*gemini.Provider); !ok {
		t.Errorf("provider = %T, want *gemini.Provider", p)
	}

	p, err = reg.CreateS2S(config.ModelConfig{Name: config.ProviderOpenAI, APIKey: "sk"})
	if err != nil {
		t.Fatalf("CreateS2S(openai): %v", err)
	}
	if _, ok := p.(*openai.Provider); !ok {
		t.Errorf("provider = %T, want *openai.Provider", p)
	}

	if _, err := reg.CreateVAD(config.VADConfig{Engine: config.VADEnergy}); err != nil {
		t.Errorf("CreateVAD(energy): %v", err)
	}
}

func TestMCPServerCommand_RejectsBadLevel(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetArgs([]string{"mcp-server", "--log-level", "loud"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}
