package prompts

import (
	"strings"
	"testing"
)

func TestSystemPromptKnownDomain(t *testing.T) {
	got := SystemPrompt("electrical_engineering")
	if !strings.Contains(got, "electrical engineering") {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestSystemPromptUnknownDomainFallsBackToGlobal(t *testing.T) {
	got := SystemPrompt("astrology")
	if got == "" {
		t.Fatal("lookup must never return empty")
	}
	if got != SystemPrompt("another_unknown") {
		t.Fatal("unknown domains must share the global prompt")
	}
}

func TestStyleGuidanceTypeOverridesDomain(t *testing.T) {
	typed := StyleGuidance("electrical_engineering", "timing_waveform")
	domain := StyleGuidance("electrical_engineering", "circuit")
	if typed == domain {
		t.Fatal("timing_waveform should carry its own style guidance")
	}
	if !strings.Contains(typed, "empty labeled row") {
		t.Fatalf("waveform style must keep output rows blank: %q", typed)
	}
}

func TestToolGuidanceFallbackChain(t *testing.T) {
	tool := ToolGuidance("electrical_engineering", "timing_waveform", "waveform_renderer")
	if !strings.Contains(tool, "name only") {
		t.Fatalf("tool-level guidance not found: %q", tool)
	}
	// Unknown tool falls through to the global tool guidance.
	global := ToolGuidance("astrology", "tarot", "crystal_ball")
	if global == "" {
		t.Fatal("tool guidance must never be empty")
	}
}

func TestKeyNormalization(t *testing.T) {
	if SystemPrompt("Electrical-Engineering") != SystemPrompt("electrical_engineering") {
		t.Fatal("domain keys must normalize case and dashes")
	}
}
