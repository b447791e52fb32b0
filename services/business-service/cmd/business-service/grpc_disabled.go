//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/slotpage/slotpage/services/business-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *storage.Repository) error {
	return nil
}
