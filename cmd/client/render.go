package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/omochice/framechat/internal/transcript"
)

// renderer prints transcript entries that have not been printed yet.
type renderer struct {
	out     io.Writer
	printed int

	timeStyle    lipgloss.Style
	messageStyle lipgloss.Style
	statusStyle  lipgloss.Style
	errorStyle   lipgloss.Style
}

func newRenderer(out io.Writer) *renderer {
	r := lipgloss.NewRenderer(out)
	return &renderer{
		out:          out,
		timeStyle:    r.NewStyle().Foreground(lipgloss.Color("240")),
		messageStyle: r.NewStyle().Foreground(lipgloss.Color("252")),
		statusStyle:  r.NewStyle().Foreground(lipgloss.Color("12")).Italic(true),
		errorStyle:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// write prints the entries of snap past the ones already shown. Snapshots
// only ever grow, so the count printed so far is a valid offset.
func (r *renderer) write(snap []transcript.Entry) {
	for _, e := range snap[min(r.printed, len(snap)):] {
		fmt.Fprintf(r.out, "%s %s\n", r.timeStyle.Render(e.At.Format("15:04:05")), r.style(e.Text).Render(e.Text))
	}
	r.printed = max(r.printed, len(snap))
}

// follow prints snapshots from store until ctx is done, then prints
// whatever is left.
func (r *renderer) follow(ctx context.Context, store *transcript.Store) {
	ch, cancel := store.Subscribe()
	defer cancel()

	for {
		select {
		case snap := <-ch:
			r.write(snap)
		case <-ctx.Done():
			r.write(store.Snapshot())
			return
		}
	}
}

func (r *renderer) style(line string) lipgloss.Style {
	switch {
	case isErrorLine(line):
		return r.errorStyle
	case isStatusLine(line):
		return r.statusStyle
	default:
		return r.messageStyle
	}
}

var errorPrefixes = []string{
	"Connection error: ",
	"Error receiving message: ",
	"Error sending message: ",
	"Error sending file: ",
	"Error sending voice: ",
	"Disconnect error: ",
}

func isErrorLine(line string) bool {
	for _, p := range errorPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func isStatusLine(line string) bool {
	return strings.HasPrefix(line, "Sent ") ||
		strings.Contains(line, " received: ") ||
		line == "Connection closed by peer"
}
