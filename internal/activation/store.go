package activation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wrenbot/wren/internal/events"
)

// storedActivation is the wire/file form of an [Activation]:
// identical shape with ISO-8601 string timestamps. It exists only
// inside this codec — everything above the store works with time.Time.
type storedActivation struct {
	ID              string                    `json:"id"`
	ChannelID       string                    `json:"channelId"`
	BotID           string                    `json:"botId"`
	Trigger         Trigger                   `json:"trigger"`
	Completions     []Completion              `json:"completions"`
	MessageContexts map[string]MessageContext `json:"messageContexts"`
	StartedAt       string                    `json:"startedAt"`
	EndedAt         string                    `json:"endedAt,omitempty"`
}

// Store persists completed activations, one pretty-printed JSON file
// per activation, under <root>/activations/<botID>/<channelID>/.
// File names start with the activation's start timestamp (ISO-8601
// with ':' and '.' replaced by '-'), so plain lexicographic sort of a
// channel directory is chronological order.
//
// Writes are direct, not write-then-rename: a crash mid-write can
// leave a truncated file, which later reads isolate and skip. The
// design assumes a single writer process per cache root.
type Store struct {
	root   string
	logger *slog.Logger
	bus    *events.Bus
}

// NewStore creates a store rooted at the given cache directory.
// bus may be nil (events are dropped).
func NewStore(root string, logger *slog.Logger, bus *events.Bus) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger, bus: bus}
}

// channelDir returns the directory holding a channel's records.
func (s *Store) channelDir(botID, channelID string) string {
	return filepath.Join(s.root, "activations", botID, channelID)
}

// recordFilename derives the file name for an activation from its own
// start timestamp and id, so concurrent persists of different
// activations can never collide.
func recordFilename(a *Activation) string {
	ts := a.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return ts + "-" + a.ID + ".json"
}

// Persist writes a completed activation to its record file, creating
// parent directories as needed.
func (s *Store) Persist(a *Activation) error {
	dir := s.channelDir(a.BotID, a.ChannelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create channel dir: %w", err)
	}

	path := filepath.Join(dir, recordFilename(a))
	if err := s.writeRecord(path, a); err != nil {
		return err
	}

	s.logger.Debug("activation persisted", "activation_id", a.ID, "path", path)
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceActivation,
		Kind:      events.KindRecordPersisted,
		Data:      map[string]any{"activation_id": a.ID, "path": path},
	})
	return nil
}

// writeRecord marshals the stored form and writes it to path. Used by
// Persist for new records and by the reconciler to rewrite patched
// ones in place.
func (s *Store) writeRecord(path string, a *Activation) error {
	data, err := json.MarshalIndent(toStored(a), "", "  ")
	if err != nil {
		return fmt.Errorf("encode activation %s: %w", a.ID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write activation record: %w", err)
	}
	return nil
}

// listFiles enumerates a channel's record files in lexicographic
// (chronological) order. A missing channel directory is an empty
// channel, not an error.
func (s *Store) listFiles(botID, channelID string) ([]string, error) {
	dir := s.channelDir(botID, channelID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list channel dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	// Chronological order is an invariant of the filename's timestamp
	// prefix, not of filesystem enumeration order.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// RewriteRecord reads a record file and writes it back through the
// current codec, normalizing any legacy field shapes in place. Used by
// the activation-migrate tool.
func (s *Store) RewriteRecord(path string) error {
	a, err := s.readOne(path)
	if err != nil {
		return err
	}
	return s.writeRecord(path, a)
}

// readOne reads and decodes a single record file. Failures are
// isolated per file: callers log and continue with siblings.
func (s *Store) readOne(path string) (*Activation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read activation record: %w", err)
	}
	var sa storedActivation
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parse activation record %s: %w", filepath.Base(path), err)
	}
	return fromStored(&sa)
}

// toStored converts an activation to its wire/file form.
func toStored(a *Activation) *storedActivation {
	sa := &storedActivation{
		ID:              a.ID,
		ChannelID:       a.ChannelID,
		BotID:           a.BotID,
		Trigger:         a.Trigger,
		Completions:     a.Completions,
		MessageContexts: a.MessageContexts,
		StartedAt:       a.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if sa.Completions == nil {
		sa.Completions = []Completion{}
	}
	if sa.MessageContexts == nil {
		sa.MessageContexts = map[string]MessageContext{}
	}
	if !a.EndedAt.IsZero() {
		sa.EndedAt = a.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	return sa
}

// fromStored converts the wire/file form back to an activation,
// parsing timestamps. Legacy bare-string message contexts have already
// been normalized by [MessageContext.UnmarshalJSON] at this point.
func fromStored(sa *storedActivation) (*Activation, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, sa.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse startedAt %q: %w", sa.StartedAt, err)
	}
	a := &Activation{
		ID:              sa.ID,
		ChannelID:       sa.ChannelID,
		BotID:           sa.BotID,
		Trigger:         sa.Trigger,
		Completions:     sa.Completions,
		MessageContexts: sa.MessageContexts,
		StartedAt:       startedAt,
	}
	if a.Completions == nil {
		a.Completions = []Completion{}
	}
	if a.MessageContexts == nil {
		a.MessageContexts = map[string]MessageContext{}
	}
	if sa.EndedAt != "" {
		endedAt, err := time.Parse(time.RFC3339Nano, sa.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("parse endedAt %q: %w", sa.EndedAt, err)
		}
		a.EndedAt = endedAt
	}
	return a, nil
}
