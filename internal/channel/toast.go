package channel

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	"notifyd/internal/toast"
)

// ToastShower is the desktop notification capability.
type ToastShower interface {
	Show(m toast.Message) error
	Supported() bool
}

const toastTarget = "desktop"

type toastAdapter struct {
	shower ToastShower
	// pause gives the OS time to render before the next toast replaces it.
	pause   time.Duration
	baseDir string
}

func toastDescriptor(s ToastShower) Descriptor {
	if s == nil {
		s = toast.New()
	}
	a := &toastAdapter{shower: s, pause: time.Second, baseDir: executableDir()}
	return a.descriptor()
}

func (a *toastAdapter) descriptor() Descriptor {
	return Descriptor{
		Name:    "toast",
		Enabled: func(c config.ChannelsConfig) bool { return c.Toast.Enabled },
		Ready:   func(c config.ChannelsConfig) bool { return c.Toast.Enabled },
		Targets: func(config.ChannelsConfig) []string { return []string{toastTarget} },
		Adapter: AdapterFunc(a.send),
	}
}

func (a *toastAdapter) send(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, _ string) error {
	if !a.shower.Supported() {
		return toast.ErrUnsupported
	}
	icons := append(append([]string(nil), cfg.Toast.Icons...), "assets/icons/notifyd.ico", "assets/icon.ico")
	err := a.shower.Show(toast.Message{
		AppID: cfg.Toast.AppID,
		Title: msg.Title,
		Body:  msg.Body,
		Icon:  toast.ResolveIcon(a.baseDir, icons...),
	})
	if err != nil {
		return err
	}
	if a.pause > 0 {
		t := time.NewTimer(a.pause)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}
