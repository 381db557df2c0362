package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
)

// RegisterApprovalCommands wires the approval surface onto a registry.
func RegisterApprovalCommands(r *Registry, engine *autonomy.Engine) {
	r.Register(&Command{
		Name:        "approve-request",
		Description: "Create a pending approval request for a tool",
		Usage:       "/approve-request <tool>",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			tool := strings.TrimSpace(inv.Args)
			if tool == "" {
				return "Usage: /approve-request <tool>", nil
			}
			req := engine.Request(tool, inv.Scope)
			return fmt.Sprintf("Approval requested for tool %s (request %s). Confirm with /approve-confirm %s.",
				tool, req.ID, req.ID), nil
		},
	})

	r.Register(&Command{
		Name:        "approve-confirm",
		Description: "Confirm a pending approval request",
		Usage:       "/approve-confirm <id>",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			id := strings.TrimSpace(inv.Args)
			if id == "" {
				return "Usage: /approve-confirm <id>", nil
			}
			req, err := engine.Confirm(ctx, id, inv.Scope)
			if err != nil {
				return approvalErrorText(id, err), nil
			}
			return fmt.Sprintf("Tool %s approved. Send your request again to run it.", req.Tool), nil
		},
	})

	r.Register(&Command{
		Name:        "approve-pending",
		Description: "List pending approval requests",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			pending := engine.PendingFor(inv.Scope)
			if len(pending) == 0 {
				return "No pending approval requests.", nil
			}
			var b strings.Builder
			b.WriteString("Pending approvals:\n")
			for _, req := range pending {
				fmt.Fprintf(&b, "  %s  %s (expires %s)\n",
					req.ID, req.Tool, req.ExpiresAt.Format(time.Kitchen))
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})

	r.Register(&Command{
		Name:        "approve",
		Description: "Durably approve a tool",
		Usage:       "/approve <tool>",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			tool := strings.TrimSpace(inv.Args)
			if tool == "" {
				return "Usage: /approve <tool>", nil
			}
			if err := engine.Approve(ctx, tool, inv.Scope.SenderID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Tool %s approved and persisted.", tool), nil
		},
	})

	r.Register(&Command{
		Name:        "unapprove",
		Description: "Revoke a durable tool approval",
		Usage:       "/unapprove <tool>",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			tool := strings.TrimSpace(inv.Args)
			if tool == "" {
				return "Usage: /unapprove <tool>", nil
			}
			if err := engine.Revoke(ctx, tool); err != nil {
				return "", err
			}
			return fmt.Sprintf("Approval for tool %s revoked.", tool), nil
		},
	})

	r.Register(&Command{
		Name:        "deny",
		Description: "Durably deny-list a tool",
		Usage:       "/deny <tool>",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			tool := strings.TrimSpace(inv.Args)
			if tool == "" {
				return "Usage: /deny <tool>", nil
			}
			if err := engine.Forbid(ctx, tool, inv.Scope.SenderID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Tool %s deny-listed. It will be refused until /undeny.", tool), nil
		},
	})

	r.Register(&Command{
		Name:        "undeny",
		Description: "Remove a tool from the deny list",
		Usage:       "/undeny <tool>",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			tool := strings.TrimSpace(inv.Args)
			if tool == "" {
				return "Usage: /undeny <tool>", nil
			}
			if err := engine.Permit(ctx, tool); err != nil {
				return "", err
			}
			return fmt.Sprintf("Tool %s removed from the deny list.", tool), nil
		},
	})

	r.Register(&Command{
		Name:        "approvals",
		Description: "List durably approved tools",
		Handler: func(ctx context.Context, inv *Invocation) (string, error) {
			tools, err := engine.Approvals(ctx)
			if err != nil {
				return "", err
			}
			denied, err := engine.Denials(ctx)
			if err != nil {
				return "", err
			}
			var parts []string
			if len(tools) > 0 {
				parts = append(parts, "Approved tools: "+strings.Join(tools, ", "))
			}
			if len(denied) > 0 {
				parts = append(parts, "Denied tools: "+strings.Join(denied, ", "))
			}
			if len(parts) == 0 {
				return "No tools are approved.", nil
			}
			return strings.Join(parts, "\n"), nil
		},
	})
}

func approvalErrorText(id string, err error) string {
	switch err.(type) {
	case *autonomy.ExpiredError:
		return fmt.Sprintf("Approval request %s has expired. Ask again to get a new request.", id)
	case *autonomy.NotPendingError:
		return fmt.Sprintf("No pending approval request %s for you in this chat.", id)
	default:
		return fmt.Sprintf("Could not confirm request %s: %v", id, err)
	}
}

// naturalApprovalPhrases are message texts treated as an approval of the
// most recent pending request, when natural-language approvals are on.
var naturalApprovalPhrases = []string{
	"approve", "approved", "approve that", "approve it",
	"yes", "yes go ahead", "yes do it", "go ahead", "do it", "confirm",
}

// naturalDenyPhrases decline the most recent pending request.
var naturalDenyPhrases = []string{
	"deny", "deny that", "no", "don't", "do not", "cancel that", "reject",
}

// HandleNaturalApproval interprets plain-language approval text against
// the newest pending request for the scope. Behavior follows the
// configured mode: direct persists the approval immediately,
// request_confirm resolves the pending request, disabled never matches.
// The boolean reports whether the text was consumed.
func HandleNaturalApproval(ctx context.Context, engine *autonomy.Engine, mode config.ApprovalMode, text string, scope autonomy.Scope) (string, bool) {
	if mode == config.ApprovalDisabled || mode == "" {
		return "", false
	}
	normalized := strings.ToLower(strings.TrimRight(strings.TrimSpace(text), ".!"))

	approve := containsPhrase(naturalApprovalPhrases, normalized)
	deny := !approve && containsPhrase(naturalDenyPhrases, normalized)
	if !approve && !deny {
		return "", false
	}

	pending := engine.PendingFor(scope)
	if len(pending) == 0 {
		return "", false
	}
	newest := pending[len(pending)-1]

	if deny {
		if _, err := engine.Deny(newest.ID, scope); err != nil {
			return approvalErrorText(newest.ID, err), true
		}
		return fmt.Sprintf("Okay, %s will not run.", newest.Tool), true
	}

	switch mode {
	case config.ApprovalDirect:
		if err := engine.Approve(ctx, newest.Tool, scope.SenderID); err != nil {
			return fmt.Sprintf("Could not approve %s: %v", newest.Tool, err), true
		}
		if _, err := engine.Confirm(ctx, newest.ID, scope); err != nil {
			// The durable approval already landed; a raced pending entry
			// is not worth surfacing.
			return fmt.Sprintf("Tool %s approved and persisted.", newest.Tool), true
		}
		return fmt.Sprintf("Tool %s approved and persisted.", newest.Tool), true
	default: // request_confirm
		req, err := engine.Confirm(ctx, newest.ID, scope)
		if err != nil {
			return approvalErrorText(newest.ID, err), true
		}
		return fmt.Sprintf("Tool %s approved. Send your request again to run it.", req.Tool), true
	}
}

func containsPhrase(phrases []string, text string) bool {
	for _, p := range phrases {
		if text == p {
			return true
		}
	}
	return false
}
