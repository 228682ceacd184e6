package oidcclient

import (
	"errors"
	"os/exec"
	"runtime"
)

// BrowserFunc opens url in the system browser.
type BrowserFunc func(url string) error

// ErrNoBrowser is returned by NoBrowser.
var ErrNoBrowser = errors.New("system browser disabled")

// NoBrowser never opens anything, so the authorization URL is shown in the
// parent window instead.
func NoBrowser(string) error {
	return ErrNoBrowser
}

// OpenBrowser launches the platform URL handler without waiting for it.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
