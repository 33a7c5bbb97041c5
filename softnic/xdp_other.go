//go:build !linux

package softnic

import (
	"fmt"
	"log/slog"
)

func init() {
	drivers[DriverAFXDP] = func(name string, _ PortConfig, _ *slog.Logger) (Port, error) {
		return nil, fmt.Errorf("port %s: %s: %w", name, DriverAFXDP, ErrDriverUnavailable)
	}
}
