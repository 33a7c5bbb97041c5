//go:build !linux

package softnic

func CreateVethPair(name, peer string, queues int) error { return ErrDriverUnavailable }

func DeleteLink(name string) error { return ErrDriverUnavailable }
