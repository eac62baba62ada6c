// Package transcript linearizes a channel's visible messages together
// with the invisible content reconstructed by the activation package:
// phantom completions spliced after their anchor messages, tool
// activity re-attached to the messages it produced, and per-message
// context injections. The output is the plain-text conversation handed
// to the next inference call.
package transcript

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wrenbot/wren/internal/activation"
)

// Message is one visible channel message, in channel order.
type Message struct {
	ID     string
	Author string
	Text   string
}

// Render produces the linearized transcript for a channel.
//
// messages must be in channel order. insertions and contexts come from
// [activation.Insertions] and [activation.ContextMap]; refs comes from
// [activation.CompletionMap] and re-attaches tool activity to the
// first visible message of the completion that produced it.
//
// Completions anchored to a message that is no longer visible (for
// example a fully-phantom activation whose trigger anchor was deleted)
// are emitted before the first message, in anchor order, so their
// content is never silently lost.
func Render(messages []Message, insertions map[string][]*activation.Completion, contexts map[string]activation.MessageContext, refs map[string]activation.CompletionRef) string {
	visible := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		visible[m.ID] = struct{}{}
	}

	var sb strings.Builder

	// Orphaned anchors first, deterministically ordered.
	var orphaned []string
	for anchor := range insertions {
		if _, ok := visible[anchor]; !ok {
			orphaned = append(orphaned, anchor)
		}
	}
	sort.Strings(orphaned)
	for _, anchor := range orphaned {
		for _, c := range insertions[anchor] {
			writeCompletion(&sb, c)
		}
	}

	for _, m := range messages {
		// Tool activity belongs immediately before the message it
		// produced; only the chunk's first message carries it, so
		// multi-message sends are not wrapped twice.
		if ref, ok := refs[m.ID]; ok && firstSentID(ref.Completion) == m.ID {
			writeToolActivity(&sb, ref.Completion)
		}

		ctx := contexts[m.ID]
		if ctx.Prefix != "" {
			sb.WriteString(ctx.Prefix)
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Author, m.Text)
		if ctx.Suffix != "" {
			sb.WriteString(ctx.Suffix)
			sb.WriteString("\n")
		}

		for _, c := range insertions[m.ID] {
			writeCompletion(&sb, c)
		}
	}

	return sb.String()
}

// writeCompletion renders a spliced-in (phantom) completion: its tool
// activity and any text that never reached the channel.
func writeCompletion(sb *strings.Builder, c *activation.Completion) {
	writeToolActivity(sb, c)
	if c.Text != "" {
		fmt.Fprintf(sb, "[unsent] %s\n", c.Text)
	}
}

// writeToolActivity renders a completion's tool calls and results.
func writeToolActivity(sb *strings.Builder, c *activation.Completion) {
	for _, tc := range c.ToolCalls {
		fmt.Fprintf(sb, "[tool %s %s]\n", tc.Name, string(tc.Input))
	}
	for _, tr := range c.ToolResults {
		if tr.Error != "" {
			fmt.Fprintf(sb, "[tool error %s]\n", tr.Error)
			continue
		}
		fmt.Fprintf(sb, "[tool result %s]\n", tr.Output)
	}
}

// firstSentID returns the completion's first sent message id, or empty
// for phantoms.
func firstSentID(c *activation.Completion) string {
	if len(c.SentMessageIDs) == 0 {
		return ""
	}
	return c.SentMessageIDs[0]
}
