//go:build !debugassert

package population

import (
	"fmt"
	"log/slog"
)

// assertf reports a broken invariant. Release builds log it and carry on.
func assertf(logger *slog.Logger, format string, args ...any) {
	logger.Warn("invariant violated", "detail", fmt.Sprintf(format, args...))
}
