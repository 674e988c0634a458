package main

import (
	"devi/devi/dispatch"
	"devi/devi/utils/color"
	"fmt"
	"io"
	"sync"
)

// terminalView prints the thread as it changes. Replies arrive on the buffer's
// goroutines, so every write goes through mu.
type terminalView struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	typing  bool
}

func newTerminalView(out io.Writer, verbose bool) *terminalView {
	return &terminalView{out: out, verbose: verbose}
}

func (v *terminalView) Append(msg dispatch.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if msg.IsUser {
		if v.verbose {
			fmt.Fprintf(v.out, "%s\n", color.ColorStatus("  queued "+msg.Timestamp))
		}
		return
	}
	fmt.Fprintf(v.out, "%s %s %s\n", color.ColorDevi("devi>"), color.ColorDevi(msg.Text), color.ColorStatus(msg.Timestamp))
}

func (v *terminalView) UpdateStatus(id string, status dispatch.Status) {
	if !v.verbose {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s\n", color.ColorStatus(fmt.Sprintf("  %s %s", ticks(status), shortID(id))))
}

func (v *terminalView) Typing(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if active && !v.typing {
		fmt.Fprintln(v.out, color.ColorStatus("devi is typing..."))
	}
	v.typing = active
}

func (v *terminalView) DispatchFailed(err error, pending int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s %v\n", color.ColorError("could not reach Devi:"), err)
	fmt.Fprintln(v.out, color.ColorWarning(fmt.Sprintf("%d message(s) kept. Type /retry to send them again.", pending)))
}

func (v *terminalView) Info(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, color.ColorInfo(fmt.Sprintf(format, args...)))
}

func ticks(s dispatch.Status) string {
	switch s {
	case dispatch.StatusSent:
		return "✓"
	case dispatch.StatusDelivered:
		return "✓✓"
	case dispatch.StatusRead:
		return "✓✓ read"
	}
	return "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
