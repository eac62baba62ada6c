package activation

import (
	"log/slog"
	"os"
	"time"

	"github.com/wrenbot/wren/internal/events"
)

// Reconciler keeps persisted records consistent with the remote
// message graph when messages are deleted on the chat platform. It
// operates on completed, on-disk activations only — the in-memory
// registry never learns about historical records — and holds no state
// between calls: each operation reads, transforms, and either rewrites
// or deletes a record file.
type Reconciler struct {
	store  *Store
	logger *slog.Logger
	bus    *events.Bus
}

// NewReconciler creates a reconciler over the given store. bus may be
// nil (events are dropped).
func NewReconciler(store *Store, logger *slog.Logger, bus *events.Bus) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger, bus: bus}
}

// OnMessageDeleted patches every record in the channel that references
// the deleted message: the id is stripped from each completion that
// carries it (a completion can become phantom as a side effect), and a
// record left with no sent ids at all is orphaned and its file
// deleted. Files are processed independently — a read, parse, or write
// failure on one is logged and does not block the others. Calling this
// twice with the same id is a no-op the second time: the files are
// already patched or removed.
func (r *Reconciler) OnMessageDeleted(botID, channelID, messageID string) error {
	files, err := r.store.listFiles(botID, channelID)
	if err != nil {
		return err
	}
	for _, path := range files {
		r.reconcileFile(path, messageID)
	}
	return nil
}

// reconcileFile applies a single message deletion to a single record
// file. All failures are logged, not returned — per-file isolation.
func (r *Reconciler) reconcileFile(path, messageID string) {
	a, err := r.store.readOne(path)
	if err != nil {
		r.logger.Warn("skipping unreadable activation record during reconcile",
			"path", path, "error", err)
		return
	}

	changed := false
	for i := range a.Completions {
		c := &a.Completions[i]
		stripped := withoutID(c.SentMessageIDs, messageID)
		if len(stripped) != len(c.SentMessageIDs) {
			c.SentMessageIDs = stripped
			changed = true
		}
	}
	if !changed {
		return
	}

	if len(a.AllSentIDs()) == 0 {
		// Every visible message this activation ever sent is gone;
		// the record is orphaned.
		if err := os.Remove(path); err != nil {
			r.logger.Warn("remove orphaned activation record",
				"path", path, "error", err)
			return
		}
		r.logger.Debug("pruned orphaned activation record",
			"path", path, "message_id", messageID)
		r.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceActivation,
			Kind:      events.KindRecordPruned,
			Data:      map[string]any{"path": path, "message_id": messageID},
		})
		return
	}

	if err := r.store.writeRecord(path, a); err != nil {
		r.logger.Warn("rewrite patched activation record",
			"path", path, "error", err)
		return
	}
	r.logger.Debug("patched activation record",
		"path", path, "message_id", messageID)
	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceActivation,
		Kind:      events.KindRecordPatched,
		Data:      map[string]any{"path": path, "message_id": messageID},
	})
}

// withoutID returns ids with every occurrence of id removed. The
// original slice is returned untouched when id is absent.
func withoutID(ids []string, id string) []string {
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			break
		}
	}
	if !found {
		return ids
	}
	out := make([]string, 0, len(ids)-1)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
