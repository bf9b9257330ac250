//go:build !linux && !(darwin && cgo)

package sleep

import "context"

// Start is a no-op on platforms without a supported power notification API
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Debug("Sleep monitor not supported on this platform")
}
