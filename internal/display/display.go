// Package display performs the user-visible navigation of interactive logins.
package display

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/term"
)

// Navigator performs a full, user-visible navigation to a URL.
type Navigator interface {
	Navigate(url string) error
}

// Func is a caller-supplied hook that replaces the Navigator, e.g. to show the
// URL in a popup or custom UI.
type Func func(url string)

// Browser opens URLs in the default web browser when attached to a terminal
// and prints them otherwise, so headless sessions can copy the URL.
type Browser struct {
	out         io.Writer
	interactive bool
	open        func(url string) error
}

// Compile-time check that Browser implements Navigator
var _ Navigator = (*Browser)(nil)

// NewBrowser creates a Browser writing fallback output to out. Browsers are
// launched only when stdout is a terminal.
func NewBrowser(out io.Writer) *Browser {
	return &Browser{
		out:         out,
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
		open:        openBrowser,
	}
}

// Navigate opens url, printing it as well so it can be used manually if the
// browser does not start.
func (b *Browser) Navigate(url string) error {
	if _, err := fmt.Fprintf(b.out, "Open this URL in your browser to sign in:\n   %s\n", url); err != nil {
		return fmt.Errorf("writing login URL: %w", err)
	}

	if !b.interactive {
		return nil
	}

	if err := b.open(url); err != nil {
		// The printed URL is still usable.
		fmt.Fprintf(b.out, "Could not open a browser automatically: %v\n", err)
	}
	return nil
}

// openBrowser opens url in the default web browser on Linux, macOS and Windows.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// Start without waiting; the browser runs in the background.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
