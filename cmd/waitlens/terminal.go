package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

const (
	altScreenOn  = "\033[?1049h\033[?25l" // alternate buffer, cursor hidden
	altScreenOff = "\033[?25h\033[?1049l"
	clearHome    = "\033[H\033[2J"
)

// enableSingleView moves the view onto the alternate screen when stdout is a
// terminal and mutes stdin echo. The returned func restores both and is safe
// to call more than once.
func enableSingleView(log *slog.Logger) func() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return func() {}
	}
	fmt.Fprint(os.Stdout, altScreenOn)

	restoreEcho := func() {}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if undo, err := suppressEcho(fd); err != nil {
			log.Warn("view: stdin echo left on", "error", err)
		} else {
			restoreEcho = undo
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			restoreEcho()
			fmt.Fprint(os.Stdout, altScreenOff)
		})
	}
}
