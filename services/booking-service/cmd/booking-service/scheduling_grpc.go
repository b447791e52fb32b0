//go:build protogen

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/slotpage/slotpage/libs/config"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
)

func newSchedulingProvider(ctx context.Context, logger *slog.Logger) (scheduling.Provider, error) {
	addr := config.String("BUSINESS_GRPC_ADDR", "")
	if addr == "" {
		baseURL := config.String("BUSINESS_SERVICE_URL", "http://business-service:8082")
		logger.Info("using http scheduling provider", "base_url", baseURL)
		return scheduling.NewHTTPProvider(baseURL, 3*time.Second), nil
	}
	provider, err := scheduling.NewGRPCProvider(addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = provider.Close()
	}()
	logger.Info("using grpc scheduling provider", "addr", addr)
	return provider, nil
}
