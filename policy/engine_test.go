package policy

import (
	"context"
	"testing"
)

func TestDefaultPolicyAllowsUserPrompt(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	decision, _, err := engine.Evaluate(ctx, map[string]interface{}{
		"actor":    "user",
		"route_to": "code",
		"parts":    1,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision != "allow" {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestDefaultPolicyBlocksNonUserActor(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	for _, actor := range []string{"code", "vision"} {
		decision, _, err := engine.Evaluate(ctx, map[string]interface{}{
			"actor":    actor,
			"route_to": "code",
			"parts":    1,
		})
		if err != nil {
			t.Fatalf("Evaluate %s: %v", actor, err)
		}
		if decision != "block" {
			t.Fatalf("expected block for actor %s, got %s", actor, decision)
		}
	}
}

func TestDefaultPolicyBoundsContentSize(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	decision, _, err := engine.Evaluate(ctx, map[string]interface{}{
		"actor":    "user",
		"route_to": "vision",
		"parts":    64,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision != "block" {
		t.Fatalf("expected block for oversized content, got %s", decision)
	}
}
