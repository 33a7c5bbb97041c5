//go:build !linux

package softnic

func pinThread(int) error { return ErrDriverUnavailable }
