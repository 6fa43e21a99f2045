package utils

import (
	"io"

	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// CloseLogged closes c and logs the outcome under name.
func CloseLogged(log logger.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("resource", name), logger.Error(err))
		return
	}
	log.Info("✅ closed cleanly", logger.String("resource", name))
}
