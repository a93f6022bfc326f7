// Package toast shows native desktop notifications.
//
// Only Windows has a backend; New returns a Notifier whose Show reports
// ErrUnsupported everywhere else, so callers never branch on runtime.GOOS.
package toast

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsupported = errors.New("toast: unsupported platform")

// DefaultIcon is used when none of the candidate icon files exist.
const DefaultIcon = "assets/icons/notifyd.ico"

type Message struct {
	AppID string
	Title string
	Body  string
	Icon  string
}

type Notifier interface {
	Show(m Message) error
	Supported() bool
}

// New returns the platform notifier.
func New() Notifier { return newPlatform() }

// ResolveIcon returns the first candidate that exists as a regular file
// (relative paths are resolved against baseDir), or DefaultIcon.
func ResolveIcon(baseDir string, candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p := c
		if !filepath.IsAbs(p) && baseDir != "" {
			p = filepath.Join(baseDir, p)
		}
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return DefaultIcon
}
