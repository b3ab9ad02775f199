package app

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/zjregee/deepthread/internal/models"
)

var (
	hanToLatin          = regexp.MustCompile(`([\p{Han}])([A-Za-z0-9])`)
	latinToHan          = regexp.MustCompile(`([A-Za-z0-9])([\p{Han}])`)
	hanToLatinMidPunct  = regexp.MustCompile(`([\p{Han}])([-/]+)([A-Za-z0-9])`)
	latinToHanMidPunct  = regexp.MustCompile(`([A-Za-z0-9])([-/]+)([\p{Han}])`)
	hanToLatinOpenPunct = regexp.MustCompile(`([\p{Han}])([\(\[\{'""]+)([A-Za-z0-9])`)
	latinToHanOpenPunct = regexp.MustCompile(`([A-Za-z0-9])([\(\[\{'""]+)([\p{Han}])`)
	hanToLatinPunct     = regexp.MustCompile(`([\p{Han}])([,.;:!?\)\]\}]+)([A-Za-z0-9])`)
	latinToHanPunct     = regexp.MustCompile(`([A-Za-z0-9])([,.;:!?\)\]\}]+)([\p{Han}])`)
)

// formatThreadMessage inserts a space between Han characters and adjacent
// Latin letters or digits. It only works on whole messages, never on stream
// chunks, since a boundary can fall between two chunks.
func formatThreadMessage(content string) string {
	if content == "" {
		return content
	}

	content = hanToLatinMidPunct.ReplaceAllString(content, "$1 $2 $3")
	content = latinToHanMidPunct.ReplaceAllString(content, "$1 $2 $3")
	content = hanToLatinOpenPunct.ReplaceAllString(content, "$1 $2$3")
	content = latinToHanOpenPunct.ReplaceAllString(content, "$1 $2$3")
	content = hanToLatinPunct.ReplaceAllString(content, "$1$2 $3")
	content = latinToHanPunct.ReplaceAllString(content, "$1$2 $3")
	content = hanToLatin.ReplaceAllString(content, "$1 $2")
	content = latinToHan.ReplaceAllString(content, "$1 $2")

	return content
}

func formatThreadTitle(title string) string {
	return formatThreadMessage(title)
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func renderThreadList(w io.Writer, threads []*models.ThreadInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED\tUSAGE")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			t.ID, formatThreadTitle(t.Title), t.MessageCount, formatTime(t.UpdatedAt), usageSummary(t.Usage))
	}
	return tw.Flush()
}

func renderThread(w io.Writer, thread *models.Thread, showTools bool) {
	fmt.Fprintf(w, "%s  (%s)\n", formatThreadTitle(thread.Info.Title), thread.Info.ID)
	fmt.Fprintf(w, "created %s, updated %s, usage %s\n",
		formatTime(thread.Info.CreatedAt), formatTime(thread.Info.UpdatedAt), usageSummary(thread.Info.Usage))

	for _, msg := range thread.Messages {
		fmt.Fprintf(w, "\n[%d] %s  %s\n", msg.Seq, msg.Role, formatTime(msg.Timestamp))
		if msg.Content != "" {
			fmt.Fprintln(w, formatThreadMessage(msg.Content))
		}
		if showTools {
			renderToolCalls(w, msg.ToolCalls, "  ")
		} else if n := len(msg.ToolCalls); n > 0 {
			fmt.Fprintf(w, "(%d tool calls, use --tools to show)\n", n)
		}
	}
}

func renderToolCalls(w io.Writer, calls []*models.ToolCallRecord, indent string) {
	for _, c := range calls {
		status := "ok"
		if c.Error != "" {
			status = "error: " + c.Error
		}
		agent := ""
		if c.Agent != "" {
			agent = " -> " + c.Agent
		}
		fmt.Fprintf(w, "%s- %s%s %s (%s)\n", indent, c.Name, agent, c.Arguments, status)
		renderToolCalls(w, c.SubCalls, indent+"  ")
	}
}

// eventRenderer prints stream events as they arrive. Tokens are written raw;
// tool traffic goes on its own lines.
type eventRenderer struct {
	w           io.Writer
	midLine     bool
	showResults bool
}

func (r *eventRenderer) render(e models.StreamEvent) {
	switch ev := e.(type) {
	case models.TokenEvent:
		fmt.Fprint(r.w, ev.Content)
		r.midLine = !strings.HasSuffix(ev.Content, "\n")
	case models.ToolCallEvent:
		r.newline()
		fmt.Fprintf(r.w, "→ %s %s\n", ev.Name, ev.Arguments)
	case models.ToolResultEvent:
		r.newline()
		switch {
		case ev.Failed():
			fmt.Fprintf(r.w, "✗ %s: %s\n", ev.Name, ev.Error)
		case r.showResults:
			fmt.Fprintf(r.w, "✓ %s:\n%s\n", ev.Name, indentLines(ev.Content, "  "))
		default:
			fmt.Fprintf(r.w, "✓ %s\n", ev.Name)
		}
	case models.DoneEvent:
		r.newline()
		if ev.Result != nil {
			fmt.Fprintf(r.w, "(%d iterations, %d tool calls)\n", ev.Result.Iterations, len(ev.Result.ToolCalls))
		}
	case models.ErrorEvent:
		r.newline()
	}
}

func (r *eventRenderer) newline() {
	if r.midLine {
		fmt.Fprintln(r.w)
		r.midLine = false
	}
}

func indentLines(s, indent string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = indent + l
	}
	return strings.Join(lines, "\n")
}
