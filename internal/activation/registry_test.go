package activation

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPersister records persisted activations in memory.
type memPersister struct {
	mu        sync.Mutex
	persisted []*Activation
	fail      error
}

func (p *memPersister) Persist(a *Activation) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = append(p.persisted, a)
	return nil
}

func testRegistry(t *testing.T) (*Registry, *memPersister) {
	t.Helper()
	p := &memPersister{}
	return NewRegistry(p, testLogger(), nil), p
}

func TestStartAssignsUniqueIDs(t *testing.T) {
	r, _ := testRegistry(t)

	a := r.Start("b1", "c1", Trigger{Type: TriggerMention, AnchorMessageID: "100"})
	b := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "200"})

	if a.ID == "" || b.ID == "" {
		t.Fatal("Start() assigned empty id")
	}
	if a.ID == b.ID {
		t.Errorf("Start() reused id %q", a.ID)
	}
	if a.StartedAt.IsZero() {
		t.Error("Start() left StartedAt zero")
	}
	if len(a.Completions) != 0 || len(a.MessageContexts) != 0 {
		t.Error("Start() should create empty completions and contexts")
	}
}

func TestAddCompletionAssignsIndexes(t *testing.T) {
	r, _ := testRegistry(t)
	a := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "100"})

	for want := 0; want < 3; want++ {
		c, err := r.AddCompletion(a.ID, "text", nil, nil, nil)
		if err != nil {
			t.Fatalf("AddCompletion() error: %v", err)
		}
		if c.Index != want {
			t.Errorf("completion index = %d, want %d", c.Index, want)
		}
	}

	got, _ := r.Active(a.ID)
	for i := range got.Completions {
		if got.Completions[i].Index != i {
			t.Errorf("Completions[%d].Index = %d, want %d", i, got.Completions[i].Index, i)
		}
	}
}

func TestAddCompletionUnknownIDFails(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.AddCompletion("nope", "text", nil, nil, nil)
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("AddCompletion(unknown) error = %v, want ErrNotActive", err)
	}
}

func TestAddCompletionAfterCompleteFails(t *testing.T) {
	r, _ := testRegistry(t)
	a := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "100"})
	if _, err := r.AddCompletion(a.ID, "hi", []string{"101"}, nil, nil); err != nil {
		t.Fatalf("AddCompletion() error: %v", err)
	}
	if err := r.Complete(a.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	// The active→completed transition is one-way: the id must not be
	// usable again.
	_, err := r.AddCompletion(a.ID, "late", nil, nil, nil)
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("AddCompletion(completed) error = %v, want ErrNotActive", err)
	}
}

func TestUpdateLastCompletionMessageIDs(t *testing.T) {
	r, _ := testRegistry(t)
	a := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "100"})
	if _, err := r.AddCompletion(a.ID, "hi", nil, nil, nil); err != nil {
		t.Fatalf("AddCompletion() error: %v", err)
	}

	r.UpdateLastCompletionMessageIDs(a.ID, []string{"101", "102"})

	got, _ := r.Active(a.ID)
	last := got.Completions[len(got.Completions)-1]
	if len(last.SentMessageIDs) != 2 || last.SentMessageIDs[0] != "101" || last.SentMessageIDs[1] != "102" {
		t.Errorf("SentMessageIDs = %v, want [101 102]", last.SentMessageIDs)
	}
}

func TestUpdateLastCompletionMessageIDsNoOps(t *testing.T) {
	r, _ := testRegistry(t)

	// Unknown id: sends racing completion are tolerated, not fatal.
	r.UpdateLastCompletionMessageIDs("nope", []string{"101"})

	// No completions yet: also a no-op.
	a := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "100"})
	r.UpdateLastCompletionMessageIDs(a.ID, []string{"101"})
	got, _ := r.Active(a.ID)
	if len(got.Completions) != 0 {
		t.Errorf("no-op update created completions: %v", got.Completions)
	}
}

func TestSetMessageContexts(t *testing.T) {
	r, _ := testRegistry(t)
	a := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "100"})

	r.SetMessageContext(a.ID, "101", MessageContext{Prefix: "thinking..."})
	r.SetMessageContexts(a.ID, map[string]MessageContext{
		"102": {Prefix: "pre", Suffix: "post"},
		"103": {Prefix: "only"},
	})

	got, _ := r.Active(a.ID)
	if len(got.MessageContexts) != 3 {
		t.Fatalf("MessageContexts has %d entries, want 3", len(got.MessageContexts))
	}
	if got.MessageContexts["102"].Suffix != "post" {
		t.Errorf("context 102 = %+v, want suffix=post", got.MessageContexts["102"])
	}

	// Unknown id is a logged no-op, never a panic.
	r.SetMessageContext("nope", "101", MessageContext{Prefix: "x"})
	r.SetMessageContexts("nope", map[string]MessageContext{"101": {Prefix: "x"}})
}

func TestCompletePersistsAndDrops(t *testing.T) {
	r, p := testRegistry(t)
	a := r.Start("b1", "c1", Trigger{Type: TriggerMention, AnchorMessageID: "100"})
	if _, err := r.AddCompletion(a.ID, "hi", []string{"101"}, nil, nil); err != nil {
		t.Fatalf("AddCompletion() error: %v", err)
	}

	if err := r.Complete(a.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if _, ok := r.Active(a.ID); ok {
		t.Error("completed activation still active")
	}
	if len(p.persisted) != 1 {
		t.Fatalf("persisted %d activations, want 1", len(p.persisted))
	}
	if p.persisted[0].EndedAt.IsZero() {
		t.Error("Complete() did not stamp EndedAt")
	}

	// Completing again: no-op with a warning, no second persist.
	if err := r.Complete(a.ID); err != nil {
		t.Fatalf("Complete(again) error: %v", err)
	}
	if len(p.persisted) != 1 {
		t.Errorf("double complete persisted %d activations, want 1", len(p.persisted))
	}
}

func TestCompletePropagatesPersistFailure(t *testing.T) {
	p := &memPersister{fail: errors.New("disk full")}
	r := NewRegistry(p, testLogger(), nil)
	a := r.Start("b1", "c1", Trigger{Type: TriggerMessage, AnchorMessageID: "100"})

	if err := r.Complete(a.ID); err == nil {
		t.Error("Complete() should propagate persist failure")
	}
	if _, ok := r.Active(a.ID); ok {
		t.Error("failed Complete() must not leave the activation active")
	}
}

// TestResponseCycleEndToEnd walks one full activation lifecycle:
// start, three completions (two phantom), complete, reload from disk,
// and insertion-map reconstruction.
func TestResponseCycleEndToEnd(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger(), nil)
	r := NewRegistry(store, testLogger(), nil)

	a := r.Start("b1", "c1", Trigger{Type: TriggerMention, AnchorMessageID: "100"})
	sends := [][]string{{}, {"101"}, {}}
	for i, ids := range sends {
		c, err := r.AddCompletion(a.ID, "step", ids, nil, nil)
		if err != nil {
			t.Fatalf("AddCompletion(%d) error: %v", i, err)
		}
		if c.Index != i {
			t.Errorf("completion %d index = %d", i, c.Index)
		}
	}
	if err := r.Complete(a.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	loaded, err := store.Load("b1", "c1", NewLiveMessages("101"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Load() returned %d activations, want 1", len(loaded))
	}
	if got := loaded[0].PhantomCount(); got != 2 {
		t.Errorf("PhantomCount() = %d, want 2", got)
	}

	ins := Insertions(loaded, NewLiveMessages("101"))
	if len(ins) != 2 {
		t.Fatalf("Insertions() has %d anchors, want 2: %v", len(ins), ins)
	}
	if got := ins["100"]; len(got) != 1 || got[0].Index != 0 {
		t.Errorf("insertions at 100 = %v, want [completion 0]", got)
	}
	if got := ins["101"]; len(got) != 1 || got[0].Index != 2 {
		t.Errorf("insertions at 101 = %v, want [completion 2]", got)
	}
}
