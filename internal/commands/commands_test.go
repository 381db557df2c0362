package commands

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/approve-confirm ab12cd34", "approve-confirm", "ab12cd34", true},
		{"/approvals", "approvals", "", true},
		{"  /approve shell  ", "approve", "shell", true},
		{"/APPROVE shell", "approve", "shell", true},
		{"please /approve shell", "", "", false},
		{"just some text", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		cmd, ok := Parse(tt.text)
		if ok != tt.wantOK {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if cmd.Name != tt.wantName || cmd.Args != tt.wantArgs {
			t.Errorf("Parse(%q) = %q/%q, want %q/%q", tt.text, cmd.Name, cmd.Args, tt.wantName, tt.wantArgs)
		}
	}
}

func approvalRegistry(t *testing.T, cfg config.AutonomyConfig) (*Registry, *autonomy.Engine) {
	t.Helper()
	engine := autonomy.NewEngine(cfg, autonomy.NewMemoryStore())
	r := NewRegistry()
	RegisterApprovalCommands(r, engine)
	return r, engine
}

func TestApproveRequestConfirmFlow(t *testing.T) {
	r, engine := approvalRegistry(t, config.AutonomyConfig{Level: config.AutonomySupervised})
	ctx := context.Background()
	scope := autonomy.Scope{SenderID: "alice", ChatID: "chat-1"}

	reply, handled, err := r.Dispatch(ctx, "/approve-request shell", scope)
	if err != nil || !handled {
		t.Fatalf("dispatch: handled=%v err=%v", handled, err)
	}
	pending := engine.PendingFor(scope)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if !strings.Contains(reply, pending[0].ID) {
		t.Errorf("reply %q should carry the request id %s", reply, pending[0].ID)
	}

	reply, handled, err = r.Dispatch(ctx, "/approve-confirm "+pending[0].ID, scope)
	if err != nil || !handled {
		t.Fatalf("confirm dispatch: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(reply, "shell") {
		t.Errorf("confirm reply = %q", reply)
	}

	tools, err := engine.Approvals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0] != "shell" {
		t.Errorf("approvals = %v, want [shell]", tools)
	}
}

func TestConfirmRejectsForeignScope(t *testing.T) {
	r, engine := approvalRegistry(t, config.AutonomyConfig{Level: config.AutonomySupervised})
	ctx := context.Background()
	creator := autonomy.Scope{SenderID: "alice", ChatID: "chat-1"}
	req := engine.Request("shell", creator)

	reply, handled, err := r.Dispatch(ctx, "/approve-confirm "+req.ID,
		autonomy.Scope{SenderID: "bob", ChatID: "chat-1"})
	if err != nil || !handled {
		t.Fatalf("dispatch: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(reply, "No pending approval request") {
		t.Errorf("reply = %q", reply)
	}
	if len(engine.PendingFor(creator)) != 1 {
		t.Error("foreign confirm must leave the request pending")
	}
}

func TestApproveUnapproveApprovals(t *testing.T) {
	r, _ := approvalRegistry(t, config.AutonomyConfig{Level: config.AutonomySupervised})
	ctx := context.Background()
	scope := autonomy.Scope{SenderID: "alice", ChatID: "chat-1"}

	if reply, _, _ := r.Dispatch(ctx, "/approvals", scope); !strings.Contains(reply, "No tools") {
		t.Errorf("empty approvals reply = %q", reply)
	}
	if _, handled, err := r.Dispatch(ctx, "/approve deploy", scope); !handled || err != nil {
		t.Fatalf("approve: handled=%v err=%v", handled, err)
	}
	if reply, _, _ := r.Dispatch(ctx, "/approvals", scope); !strings.Contains(reply, "deploy") {
		t.Errorf("approvals reply = %q", reply)
	}
	if _, handled, err := r.Dispatch(ctx, "/unapprove deploy", scope); !handled || err != nil {
		t.Fatalf("unapprove: handled=%v err=%v", handled, err)
	}
	if reply, _, _ := r.Dispatch(ctx, "/approvals", scope); !strings.Contains(reply, "No tools") {
		t.Errorf("post-revoke approvals reply = %q", reply)
	}
}

func TestDenyUndenyCommands(t *testing.T) {
	r, engine := approvalRegistry(t, config.AutonomyConfig{Level: config.AutonomySupervised})
	ctx := context.Background()
	scope := autonomy.Scope{SenderID: "alice", ChatID: "chat-1"}

	if _, handled, err := r.Dispatch(ctx, "/deny shell", scope); !handled || err != nil {
		t.Fatalf("deny: handled=%v err=%v", handled, err)
	}
	if reply, _, _ := r.Dispatch(ctx, "/approvals", scope); !strings.Contains(reply, "Denied tools: shell") {
		t.Errorf("approvals reply = %q", reply)
	}

	// A deny-listed tool is refused even after an explicit approval.
	if _, handled, err := r.Dispatch(ctx, "/approve shell", scope); !handled || err != nil {
		t.Fatalf("approve: handled=%v err=%v", handled, err)
	}
	dec, err := engine.Authorize(ctx, models.ToolCall{ID: "tc", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)}, scope)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Verdict != autonomy.Denied {
		t.Fatalf("verdict = %s, want denied", dec.Verdict)
	}

	if _, handled, err := r.Dispatch(ctx, "/undeny shell", scope); !handled || err != nil {
		t.Fatalf("undeny: handled=%v err=%v", handled, err)
	}
	dec, err = engine.Authorize(ctx, models.ToolCall{ID: "tc", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)}, scope)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Verdict != autonomy.Approved {
		t.Fatalf("verdict = %s, want approved", dec.Verdict)
	}
}

func TestUnknownCommandFallsThrough(t *testing.T) {
	r, _ := approvalRegistry(t, config.AutonomyConfig{})
	_, handled, err := r.Dispatch(context.Background(), "/weather tomorrow", autonomy.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if handled {
		t.Error("unregistered command must fall through to the agent")
	}
}

func TestNaturalApprovalModes(t *testing.T) {
	ctx := context.Background()
	scope := autonomy.Scope{SenderID: "alice", ChatID: "chat-1"}

	t.Run("disabled ignores", func(t *testing.T) {
		_, engine := approvalRegistry(t, config.AutonomyConfig{})
		engine.Request("shell", scope)
		if _, handled := HandleNaturalApproval(ctx, engine, config.ApprovalDisabled, "yes go ahead", scope); handled {
			t.Error("disabled mode must ignore natural-language approvals")
		}
	})

	t.Run("request_confirm confirms newest", func(t *testing.T) {
		_, engine := approvalRegistry(t, config.AutonomyConfig{})
		engine.Request("shell", scope)
		reply, handled := HandleNaturalApproval(ctx, engine, config.ApprovalRequestConfirm, "yes go ahead", scope)
		if !handled {
			t.Fatal("expected the approval to be consumed")
		}
		if !strings.Contains(reply, "shell") {
			t.Errorf("reply = %q", reply)
		}
		tools, _ := engine.Approvals(ctx)
		if len(tools) != 1 || tools[0] != "shell" {
			t.Errorf("approvals = %v", tools)
		}
	})

	t.Run("direct persists", func(t *testing.T) {
		_, engine := approvalRegistry(t, config.AutonomyConfig{})
		engine.Request("deploy", scope)
		reply, handled := HandleNaturalApproval(ctx, engine, config.ApprovalDirect, "approve that", scope)
		if !handled {
			t.Fatal("expected the approval to be consumed")
		}
		if !strings.Contains(reply, "deploy") {
			t.Errorf("reply = %q", reply)
		}
		tools, _ := engine.Approvals(ctx)
		if len(tools) != 1 || tools[0] != "deploy" {
			t.Errorf("approvals = %v", tools)
		}
	})

	t.Run("deny discards", func(t *testing.T) {
		_, engine := approvalRegistry(t, config.AutonomyConfig{})
		engine.Request("shell", scope)
		if _, handled := HandleNaturalApproval(ctx, engine, config.ApprovalRequestConfirm, "no", scope); !handled {
			t.Fatal("expected the denial to be consumed")
		}
		if len(engine.PendingFor(scope)) != 0 {
			t.Error("denied request should be gone")
		}
	})

	t.Run("plain text falls through", func(t *testing.T) {
		_, engine := approvalRegistry(t, config.AutonomyConfig{})
		engine.Request("shell", scope)
		if _, handled := HandleNaturalApproval(ctx, engine, config.ApprovalRequestConfirm, "what is the weather", scope); handled {
			t.Error("ordinary text must not be treated as an approval")
		}
	})

	t.Run("no pending falls through", func(t *testing.T) {
		_, engine := approvalRegistry(t, config.AutonomyConfig{})
		if _, handled := HandleNaturalApproval(ctx, engine, config.ApprovalRequestConfirm, "yes", scope); handled {
			t.Error("approval text with nothing pending must fall through")
		}
	})
}
