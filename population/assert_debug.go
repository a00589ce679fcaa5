//go:build debugassert

package population

import (
	"fmt"
	"log/slog"
)

// assertf panics on a broken invariant in builds tagged debugassert.
func assertf(logger *slog.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("invariant violated", "detail", msg)
	panic(msg)
}
