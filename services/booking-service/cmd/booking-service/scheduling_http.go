//go:build !protogen

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/slotpage/slotpage/libs/config"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
)

func newSchedulingProvider(_ context.Context, logger *slog.Logger) (scheduling.Provider, error) {
	baseURL := config.String("BUSINESS_SERVICE_URL", "http://business-service:8082")
	logger.Info("using http scheduling provider", "base_url", baseURL)
	return scheduling.NewHTTPProvider(baseURL, 3*time.Second), nil
}
