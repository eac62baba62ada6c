package activation

// The phantom-insertion engine. After messages are deleted on the
// remote platform, phantom completions (tool-call cycles, pure
// thinking) must be re-attached to whichever of their neighbouring
// messages still exist. The anchor-chain walk below computes the exact
// splice points: "after rendering the message at key K, insert these
// completions' content before continuing."

// Insertions maps anchor message ids to the completions that must be
// spliced in immediately after them.
//
// For each activation, in the order given, the walk keeps a current
// anchor starting at the trigger's anchor message. Completions are
// visited in index order:
//
//   - A phantom completion is appended under the current anchor and
//     does not advance it.
//   - A visible completion advances the anchor to the last of its sent
//     ids that is still live, scanned in send order. If none survive,
//     the anchor is unchanged — it skips over the fully-deleted chunk.
//
// Entries accumulate across activations: several activations can
// contribute phantoms under the same anchor, in processing order.
func Insertions(activations []*Activation, live LiveMessages) map[string][]*Completion {
	result := make(map[string][]*Completion)
	for _, a := range activations {
		anchor := a.Trigger.AnchorMessageID
		for i := range a.Completions {
			c := &a.Completions[i]
			if c.Phantom() {
				if _, ok := result[anchor]; !ok {
					result[anchor] = []*Completion{}
				}
				result[anchor] = append(result[anchor], c)
				continue
			}
			anchor = advanceAnchor(anchor, c, live)
		}
	}
	return result
}

// advanceAnchor returns the anchor after a visible completion: the
// last surviving sent id in send order, or the current anchor if the
// whole chunked send was deleted. Note "last surviving in send order",
// not "last element of the array" — a deleted tail message leaves the
// anchor at the survivor before it.
func advanceAnchor(anchor string, c *Completion, live LiveMessages) string {
	for _, id := range c.SentMessageIDs {
		if live.Has(id) {
			anchor = id
		}
	}
	return anchor
}
