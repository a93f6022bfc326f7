//go:build windows

package toast

import (
	gotoast "github.com/go-toast/toast"
)

type windowsNotifier struct{}

func newPlatform() Notifier { return windowsNotifier{} }

func (windowsNotifier) Supported() bool { return true }

func (windowsNotifier) Show(m Message) error {
	appID := m.AppID
	if appID == "" {
		appID = "notifyd"
	}
	n := gotoast.Notification{
		AppID:   appID,
		Title:   m.Title,
		Message: m.Body,
		Icon:    m.Icon,
	}
	return n.Push()
}
