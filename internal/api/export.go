package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/librarian-ai/librarian/internal/session"
)

// export renders a session's full history in a portable format.
// ?format=json (default) returns the session object; ?format=markdown
// returns a human-readable transcript with a Content-Disposition
// header so browsers save it as a file.
func (h *sessionHandler) export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Get(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, sess, h.logger)
	case "markdown", "md":
		md := renderMarkdown(sess)
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "session-"+id.String()+".md"))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(md)); err != nil {
			h.logger.Error("writing markdown export", "error", err)
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_format",
			"format must be json or markdown", h.logger)
	}
}

// renderMarkdown builds a transcript: one section per turn, tool calls
// condensed to their names, totals footer at the end.
func renderMarkdown(sess *session.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "Created: %s\n\n", sess.CreatedAt.Format(time.RFC3339))

	for i, turn := range sess.Turns {
		fmt.Fprintf(&b, "## Turn %d\n\n", i+1)
		fmt.Fprintf(&b, "**User** (%s): %s\n\n", turn.Requester.Type, turn.UserMessage)

		for _, step := range turn.Steps {
			if step.Kind != session.StepToolCall {
				continue
			}
			fmt.Fprintf(&b, "- tool: `%s`\n", step.ToolName)
		}
		if turn.FinalText != "" {
			fmt.Fprintf(&b, "\n**Librarian**: %s\n\n", turn.FinalText)
		}
		if turn.Status == session.TurnFailed {
			fmt.Fprintf(&b, "_Turn failed (%s)._\n\n", turn.FailReason)
		}
	}

	fmt.Fprintf(&b, "---\n\nTokens: %d in / %d out (cache read %d). Cost: $%.4f, saved $%.4f.\n",
		sess.Totals.InputTokens,
		sess.Totals.OutputTokens,
		sess.Totals.CacheReadTokens,
		sess.Totals.CostUSD,
		sess.Totals.SavingsUSD)

	return b.String()
}
