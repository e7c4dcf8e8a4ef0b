package task

import (
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	id := NewID(PlatformGemini)
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 {
		t.Fatalf("id = %q, want <platform>-<millis>-<suffix>", id)
	}
	if parts[0] != "gemini" {
		t.Errorf("prefix = %q, want gemini", parts[0])
	}
	if len(parts[2]) != 8 {
		t.Errorf("suffix = %q, want 8 chars", parts[2])
	}

	if !strings.HasPrefix(NewID(""), "task-") {
		t.Error("empty platform should yield a task- prefix")
	}

	if NewID(PlatformGemini) == id {
		t.Error("consecutive ids collided")
	}
}

func TestRenderPrompt(t *testing.T) {
	tk := New("analysis", "do the thing")
	if got := tk.RenderPrompt(); got != "do the thing" {
		t.Errorf("RenderPrompt without context = %q", got)
	}

	tk.Context = map[string]string{
		"repo":   "dispatch",
		"branch": "main",
	}
	want := "branch: main\nrepo: dispatch\n\ndo the thing"
	if got := tk.RenderPrompt(); got != want {
		t.Errorf("RenderPrompt = %q, want %q", got, want)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning, StatusUnknown} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	for _, p := range []Platform{PlatformChatGPT, PlatformGemini, PlatformClaudeCode} {
		if !p.Valid() {
			t.Errorf("%s.Valid() = false", p)
		}
	}
	if Platform("cray").Valid() {
		t.Error(`Platform("cray").Valid() = true`)
	}
}

func TestChainID(t *testing.T) {
	tk := New("analysis", "x")
	if tk.ChainID() != "" {
		t.Errorf("ChainID on fresh task = %q, want empty", tk.ChainID())
	}
	tk.Metadata = map[string]string{"chain_id": "chain-9"}
	if tk.ChainID() != "chain-9" {
		t.Errorf("ChainID = %q, want chain-9", tk.ChainID())
	}
}

func TestFailure(t *testing.T) {
	tk := New("analysis", "x")
	res := Failure(tk, PlatformChatGPT, StatusTimeout, "deadline exceeded")

	if res.Success {
		t.Error("failure result marked successful")
	}
	if res.Status != StatusTimeout {
		t.Errorf("status = %s, want timeout", res.Status)
	}
	if res.TaskID != tk.ID || res.Platform != PlatformChatGPT {
		t.Errorf("identity fields = %s/%s", res.TaskID, res.Platform)
	}
	if res.Error != "deadline exceeded" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestTokensUsed(t *testing.T) {
	res := &Result{TokensIn: 12, TokensOut: 30}
	if got := res.TokensUsed(); got != 42 {
		t.Errorf("TokensUsed = %d, want 42", got)
	}
}
