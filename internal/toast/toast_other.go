//go:build !windows

package toast

type unsupported struct{}

func newPlatform() Notifier { return unsupported{} }

func (unsupported) Supported() bool { return false }

func (unsupported) Show(Message) error { return ErrUnsupported }
