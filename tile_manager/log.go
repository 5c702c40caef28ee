package tile_manager

import "log/slog"

var logger = slog.Default()

// SetLogger 替换包日志
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}
