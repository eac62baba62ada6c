package activation

// Channel-load reconstruction: read every persisted record for a
// channel, filter the ones whose visible messages are all gone, and
// build the lookup structures the transcript renderer consumes.

// Load reads all persisted activations for a channel in chronological
// order, dropping orphans and skipping unparseable files.
//
// The filter rule: an activation is dropped iff it sent at least one
// message and none of its sent ids is still live. An activation with
// no sent ids at all — entirely phantom — is never dropped, even
// though no visible message anchors it: its completions still belong
// in the transcript, placed relative to the trigger anchor by
// [Insertions].
func (s *Store) Load(botID, channelID string, live LiveMessages) ([]*Activation, error) {
	files, err := s.listFiles(botID, channelID)
	if err != nil {
		return nil, err
	}

	var out []*Activation
	for _, path := range files {
		a, err := s.readOne(path)
		if err != nil {
			// One corrupt record must not abort the channel load.
			s.logger.Warn("skipping unreadable activation record",
				"path", path, "error", err)
			continue
		}

		sent := a.AllSentIDs()
		if len(sent) > 0 && !anyLive(sent, live) {
			s.logger.Debug("dropping orphaned activation",
				"activation_id", a.ID, "sent", len(sent))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// anyLive reports whether at least one of ids is in the live set.
func anyLive(ids []string, live LiveMessages) bool {
	for _, id := range ids {
		if live.Has(id) {
			return true
		}
	}
	return false
}

// CompletionRef points a visible message back to the completion (and
// owning activation) that produced it.
type CompletionRef struct {
	Activation *Activation
	Completion *Completion
}

// CompletionMap maps every sent message id in every completion back to
// the completion that produced it. The renderer uses it to decide what
// invisible wrapping belongs around a specific visible message. The
// map is rebuilt from scratch on every reconstruction; there is no
// incremental update path.
func CompletionMap(activations []*Activation) map[string]CompletionRef {
	m := make(map[string]CompletionRef)
	for _, a := range activations {
		for i := range a.Completions {
			c := &a.Completions[i]
			for _, id := range c.SentMessageIDs {
				m[id] = CompletionRef{Activation: a, Completion: c}
			}
		}
	}
	return m
}

// ContextMap flattens every activation's message contexts into one
// table. Two activations claiming the same message id should not occur
// under correct operation; if it does, the last-processed activation
// wins — never an error.
func ContextMap(activations []*Activation) map[string]MessageContext {
	m := make(map[string]MessageContext)
	for _, a := range activations {
		for id, ctx := range a.MessageContexts {
			m[id] = ctx
		}
	}
	return m
}
