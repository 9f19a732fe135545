//go:build !unix

package main

import (
	"context"
	"log/slog"
)

func watchReload(ctx context.Context, path string, u updater) {
	slog.Warn("Probe file reload is not supported on this platform", "path", path)
	<-ctx.Done()
}
