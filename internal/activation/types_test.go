package activation

import (
	"encoding/json"
	"testing"
)

func TestMessageContextLegacyString(t *testing.T) {
	var ctx MessageContext
	if err := json.Unmarshal([]byte(`"foo"`), &ctx); err != nil {
		t.Fatalf("Unmarshal(legacy string): %v", err)
	}
	if ctx.Prefix != "foo" {
		t.Errorf("Prefix = %q, want %q", ctx.Prefix, "foo")
	}
	if ctx.Suffix != "" {
		t.Errorf("Suffix = %q, want empty", ctx.Suffix)
	}
}

func TestMessageContextObjectForm(t *testing.T) {
	var ctx MessageContext
	if err := json.Unmarshal([]byte(`{"prefix":"before","suffix":"after"}`), &ctx); err != nil {
		t.Fatalf("Unmarshal(object): %v", err)
	}
	if ctx.Prefix != "before" || ctx.Suffix != "after" {
		t.Errorf("got %+v, want prefix=before suffix=after", ctx)
	}
}

func TestMessageContextMarshalsAsObject(t *testing.T) {
	// The legacy string shape is read-only: writes always produce the
	// object form.
	data, err := json.Marshal(MessageContext{Prefix: "foo"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"prefix":"foo"}` {
		t.Errorf("Marshal = %s, want {\"prefix\":\"foo\"}", data)
	}
}

func TestCompletionPhantom(t *testing.T) {
	c := Completion{SentMessageIDs: []string{}}
	if !c.Phantom() {
		t.Error("completion with no sent ids should be phantom")
	}
	c.SentMessageIDs = []string{"101"}
	if c.Phantom() {
		t.Error("completion with a sent id should not be phantom")
	}
}

func TestActivationAllSentIDs(t *testing.T) {
	a := &Activation{
		Completions: []Completion{
			{Index: 0, SentMessageIDs: []string{}},
			{Index: 1, SentMessageIDs: []string{"a", "b"}},
			{Index: 2, SentMessageIDs: []string{"c"}},
		},
	}
	got := a.AllSentIDs()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("AllSentIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllSentIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestActivationPhantomCount(t *testing.T) {
	a := &Activation{
		Completions: []Completion{
			{Index: 0},
			{Index: 1, SentMessageIDs: []string{"a"}},
			{Index: 2},
		},
	}
	if got := a.PhantomCount(); got != 2 {
		t.Errorf("PhantomCount() = %d, want 2", got)
	}
}

func TestLiveMessages(t *testing.T) {
	live := NewLiveMessages("a", "b")
	if !live.Has("a") || !live.Has("b") {
		t.Error("constructor ids should be live")
	}
	if live.Has("c") {
		t.Error("unknown id should not be live")
	}
	live.Add("c")
	if !live.Has("c") {
		t.Error("added id should be live")
	}
}
