package core

import (
	"context"
	"testing"
)

func TestInvocationContext_ForAgentIsolation(t *testing.T) {
	history := []Turn{NewTurn(SpeakerUser, "hi")}
	ic := NewInvocationContext(context.Background(), "s1", "inv1", history, NewCallBudget(0), nil)

	type key struct{}
	child := ic.ForAgent(context.WithValue(context.Background(), key{}, 1), AgentInfo{Name: "alpha"})
	if child.GetAgentName() != "alpha" {
		t.Fatalf("expected alpha, got %s", child.GetAgentName())
	}
	if ic.GetAgentName() != "" {
		t.Fatal("parent context must not be mutated")
	}
	if child.Budget != ic.Budget {
		t.Fatal("budget should be shared across agent contexts")
	}
	if child.Context.Value(key{}) != 1 {
		t.Fatal("child should carry the derived context")
	}
}

func TestInvocationContext_HistoryCopy(t *testing.T) {
	turn := NewTurn(SpeakerUser, "hi").WithMeta("k", "v")
	ic := NewInvocationContext(context.Background(), "s1", "inv1", []Turn{turn}, nil, nil)
	cp := ic.HistoryCopy()
	cp[0].Metadata["k"] = "changed"
	cp[0].Content = "changed"
	if ic.History[0].Metadata["k"] != "v" || ic.History[0].Content != "hi" {
		t.Fatal("HistoryCopy must not alias the original turns")
	}
}

func TestInvocationContext_Done(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ic := NewInvocationContext(ctx, "s1", "inv1", nil, nil, nil)
	cancel()
	<-ic.Done()
	if ic.Err() == nil {
		t.Fatal("expected cancellation error")
	}
}
