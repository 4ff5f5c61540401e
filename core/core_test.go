package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type testLogger struct {
	msgs []string
	args [][]any
}

func (l *testLogger) record(msg string, args []any) {
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

func (l *testLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *testLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.record(msg, args) }

func TestScopedLogger_NilFallsBackToNoOp(t *testing.T) {
	ic := NewInvocationContext(context.Background(), "s1", "inv1", nil, nil, nil)
	ic.LogInfo("hello", "k", "v") // must not panic
	if ic.Logger() == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestScopedLogger_Forwards(t *testing.T) {
	l := &testLogger{}
	ic := NewInvocationContext(context.Background(), "s1", "inv1", nil, nil, l)
	ic.LogDebug("a")
	ic.LogWarn("b")
	ic.LogError("c")
	if len(l.msgs) != 3 || l.msgs[1] != "b" {
		t.Fatalf("unexpected messages: %v", l.msgs)
	}
	want := []any{"session_id", "s1", "invocation_id", "inv1"}
	if !reflect.DeepEqual(l.args[0], want) {
		t.Fatalf("unexpected args: %v", l.args[0])
	}
}

func TestScopedLogger_ForAgentAddsName(t *testing.T) {
	l := &testLogger{}
	ic := NewInvocationContext(context.Background(), "s1", "inv1", nil, nil, l)
	alpha := ic.ForAgent(context.Background(), AgentInfo{Name: "alpha"})
	beta := alpha.ForAgent(context.Background(), AgentInfo{Name: "beta"})

	beta.LogInfo("done", "k", "v")
	ic.LogInfo("parent")

	want := []any{"session_id", "s1", "invocation_id", "inv1", "agent", "beta", "k", "v"}
	if !reflect.DeepEqual(l.args[0], want) {
		t.Fatalf("unexpected args: %v", l.args[0])
	}
	if len(l.args[1]) != 4 {
		t.Fatalf("parent logger gained agent binding: %v", l.args[1])
	}
}

func TestCallBudget(t *testing.T) {
	b := NewCallBudget(2)
	if err := b.Spend(); err != nil {
		t.Fatalf("first spend: %v", err)
	}
	if err := b.Spend(); err != nil {
		t.Fatalf("second spend: %v", err)
	}
	if b.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", b.Remaining())
	}
	err := b.Spend()
	if !errors.Is(err, ErrCallBudgetExceeded) {
		t.Fatalf("expected ErrCallBudgetExceeded, got %v", err)
	}
	if b.Count() != 3 {
		t.Fatalf("expected count 3, got %d", b.Count())
	}
}

func TestCallBudget_UnlimitedAndNil(t *testing.T) {
	b := NewCallBudget(0)
	for i := 0; i < 100; i++ {
		if err := b.Spend(); err != nil {
			t.Fatalf("unlimited budget returned error: %v", err)
		}
	}
	if b.Remaining() != -1 {
		t.Fatal("unlimited budget should report -1 remaining")
	}
	var nilBudget *CallBudget
	if err := nilBudget.Spend(); err != nil {
		t.Fatalf("nil budget should be unlimited: %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"Hate":      CategoryHate,
		"SelfHarm":  CategorySelfHarm,
		"self-harm": CategorySelfHarm,
		"self_harm": CategorySelfHarm,
		"Sexual":    CategorySexual,
		"VIOLENCE":  CategoryViolence,
	}
	for in, want := range cases {
		got, ok := ParseCategory(in)
		if !ok || got != want {
			t.Errorf("ParseCategory(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseCategory("profanity"); ok {
		t.Error("unknown category should not parse")
	}
}
