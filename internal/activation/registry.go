package activation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenbot/wren/internal/events"
)

// ErrNotActive is returned when a completion is appended to an
// activation id that is unknown or already completed. This is a
// contract violation on the caller's side — completing twice, or
// retaining a stale id across a restart — and must not be swallowed.
var ErrNotActive = errors.New("activation is not active")

// Persister writes a completed activation to durable storage.
// Implemented by [Store]; defined as an interface for testability.
type Persister interface {
	Persist(a *Activation) error
}

// Registry is the in-memory table of activations currently being
// built. It owns every active activation exclusively: callers keep
// only the id and mutate through registry operations. All methods are
// safe for concurrent use; the mutex makes the "no concurrent writer
// to the same activation" assumption explicit rather than implicit.
//
// The mutation operations are deliberately asymmetric. Appending a
// completion is a strict precondition (it must follow a Start you
// performed yourself) and fails hard on violation. Context and
// metadata mutation tolerate races with lifecycle completion — a
// message-send callback can fire after the activation already
// completed — and degrade to logged no-ops.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Activation

	store  Persister
	logger *slog.Logger
	bus    *events.Bus
	now    func() time.Time // injectable for testing; defaults to time.Now
}

// NewRegistry creates an activation registry that persists completed
// activations through store. bus may be nil (events are dropped).
func NewRegistry(store Persister, logger *slog.Logger, bus *events.Bus) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]*Activation),
		store:  store,
		logger: logger,
		bus:    bus,
		now:    time.Now,
	}
}

// Start creates a new active activation and returns it. It always
// succeeds; the id is a fresh UUID. Callers must treat the returned
// activation as read-only — all mutation goes through registry
// operations keyed by its ID.
func (r *Registry) Start(botID, channelID string, trig Trigger) *Activation {
	a := &Activation{
		ID:              uuid.NewString(),
		ChannelID:       channelID,
		BotID:           botID,
		Trigger:         trig,
		Completions:     []Completion{},
		MessageContexts: map[string]MessageContext{},
		StartedAt:       r.now().UTC(),
	}

	r.mu.Lock()
	r.active[a.ID] = a
	r.mu.Unlock()

	r.logger.Debug("activation started",
		"activation_id", a.ID,
		"bot_id", botID,
		"channel_id", channelID,
		"trigger", string(trig.Type),
		"anchor", trig.AnchorMessageID,
	)
	r.bus.Publish(events.Event{
		Timestamp: r.now(),
		Source:    events.SourceActivation,
		Kind:      events.KindActivationStarted,
		Data: map[string]any{
			"activation_id": a.ID,
			"bot_id":        botID,
			"channel_id":    channelID,
			"trigger":       string(trig.Type),
		},
	})
	return a
}

// AddCompletion appends a completion to an active activation and
// returns it with its index assigned (the completion's position at
// append time, never reassigned later). Returns [ErrNotActive] if the
// id is unknown or already completed.
func (r *Registry) AddCompletion(activationID, text string, sentMessageIDs []string, toolCalls []ToolCall, toolResults []ToolResult) (Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.active[activationID]
	if !ok {
		return Completion{}, fmt.Errorf("add completion to %s: %w", activationID, ErrNotActive)
	}

	c := Completion{
		Index:          len(a.Completions),
		Text:           text,
		SentMessageIDs: cloneIDs(sentMessageIDs),
		ToolCalls:      append(make([]ToolCall, 0, len(toolCalls)), toolCalls...),
		ToolResults:    append(make([]ToolResult, 0, len(toolResults)), toolResults...),
	}
	a.Completions = append(a.Completions, c)

	r.bus.Publish(events.Event{
		Timestamp: r.now(),
		Source:    events.SourceActivation,
		Kind:      events.KindCompletionAdded,
		Data: map[string]any{
			"activation_id": activationID,
			"index":         c.Index,
			"phantom":       c.Phantom(),
		},
	})
	return c, nil
}

// UpdateLastCompletionMessageIDs replaces the sent message ids of the
// activation's most recent completion. Sends can race lifecycle
// completion, so an unknown id or an activation with no completions is
// a logged no-op, not an error.
func (r *Registry) UpdateLastCompletionMessageIDs(activationID string, messageIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.active[activationID]
	if !ok {
		r.logger.Warn("update message ids for inactive activation",
			"activation_id", activationID)
		return
	}
	if len(a.Completions) == 0 {
		r.logger.Warn("update message ids with no completions",
			"activation_id", activationID)
		return
	}
	a.Completions[len(a.Completions)-1].SentMessageIDs = cloneIDs(messageIDs)
}

// SetMessageContext attaches invisible prefix/suffix content to a
// visible message. Unknown ids are a logged no-op (same race tolerance
// as [Registry.UpdateLastCompletionMessageIDs]).
func (r *Registry) SetMessageContext(activationID, messageID string, ctx MessageContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.active[activationID]
	if !ok {
		r.logger.Warn("set message context for inactive activation",
			"activation_id", activationID, "message_id", messageID)
		return
	}
	a.MessageContexts[messageID] = ctx
}

// SetMessageContexts attaches a batch of message contexts in one call.
// Unknown ids are a logged no-op.
func (r *Registry) SetMessageContexts(activationID string, contexts map[string]MessageContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.active[activationID]
	if !ok {
		r.logger.Warn("set message contexts for inactive activation",
			"activation_id", activationID, "count", len(contexts))
		return
	}
	for id, ctx := range contexts {
		a.MessageContexts[id] = ctx
	}
}

// Complete performs the one-way active→completed transition: stamps
// EndedAt, removes the activation from the registry, and persists it.
// An unknown id is a logged no-op (completion can race itself under
// retry). A persistence failure propagates to the caller; the
// activation is gone from the registry either way — there is no path
// back to active.
func (r *Registry) Complete(activationID string) error {
	r.mu.Lock()
	a, ok := r.active[activationID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("complete inactive activation", "activation_id", activationID)
		return nil
	}
	a.EndedAt = r.now().UTC()
	delete(r.active, activationID)
	r.mu.Unlock()

	r.bus.Publish(events.Event{
		Timestamp: r.now(),
		Source:    events.SourceActivation,
		Kind:      events.KindActivationCompleted,
		Data: map[string]any{
			"activation_id": activationID,
			"completions":   len(a.Completions),
			"phantoms":      a.PhantomCount(),
		},
	})

	if err := r.store.Persist(a); err != nil {
		return fmt.Errorf("persist activation %s: %w", activationID, err)
	}
	r.logger.Debug("activation completed",
		"activation_id", activationID,
		"completions", len(a.Completions),
		"phantoms", a.PhantomCount(),
	)
	return nil
}

// Active returns the activation for an id if it is still active.
// The returned activation must be treated as read-only.
func (r *Registry) Active(activationID string) (*Activation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[activationID]
	return a, ok
}

// ActiveCount returns the number of activations currently being built.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// cloneIDs copies an id slice so the registry owns its storage. A nil
// input becomes an empty (non-nil) slice so the phantom property and
// the JSON form stay stable.
func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
