//go:build protogen

package grpcserver

import (
	"context"
	"errors"

	businessv1 "github.com/slotpage/slotpage/protos/gen/business/v1"
	"github.com/slotpage/slotpage/services/business-service/internal/dayconfig"
	"github.com/slotpage/slotpage/services/business-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type server struct {
	businessv1.UnimplementedAvailabilityServiceServer
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, repo *storage.Repository) {
	businessv1.RegisterAvailabilityServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) GetDayConfig(ctx context.Context, req *businessv1.DayConfigRequest) (*businessv1.DayConfigResponse, error) {
	params := dayconfig.Params{
		BusinessID: req.GetBusinessId(),
		ServiceID:  req.GetServiceId(),
		WorkerID:   req.GetWorkerId(),
		Date:       req.GetDate(),
	}
	if req.GetAt() != nil {
		at := req.GetAt().AsTime()
		params.At = &at
	}
	if params.BusinessID == "" || params.ServiceID == "" {
		return nil, status.Error(codes.InvalidArgument, "business_id and service_id are required")
	}

	cfg, err := dayconfig.Build(ctx, s.repo, params)
	switch {
	case errors.Is(err, dayconfig.ErrBusinessNotFound),
		errors.Is(err, dayconfig.ErrServiceNotFound),
		errors.Is(err, dayconfig.ErrWorkerNotFound):
		return nil, status.Error(codes.NotFound, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, "failed to build availability config")
	}

	resp := &businessv1.DayConfigResponse{
		BusinessId:       cfg.BusinessID,
		Timezone:         cfg.Timezone,
		AvailabilityMode: cfg.Mode,
		ServiceId:        cfg.ServiceID,
		ServiceName:      cfg.ServiceName,
		DurationMinutes:  int32(cfg.DurationMinutes),
		PriceCents:       cfg.PriceCents,
		Policy: &businessv1.BookingPolicy{
			RequireManualConfirmation: cfg.Policy.RequireManualConfirmation,
			RequestDeposit:            cfg.Policy.RequestDeposit,
			DepositPercentage:         int32(cfg.Policy.DepositPercentage),
			SlotStepMinutes:           int32(cfg.Policy.SlotStepMinutes),
		},
	}
	for _, m := range cfg.Policy.ReminderOffsetsMinutes {
		resp.Policy.ReminderOffsetsMinutes = append(resp.Policy.ReminderOffsetsMinutes, int32(m))
	}
	for _, res := range cfg.Resources {
		resp.Resources = append(resp.Resources, &businessv1.ResourceDay{
			WorkerId:    res.WorkerID,
			CalendarRef: res.CalendarRef,
			Windows:     toProtoIntervals(res.Windows),
			TimeOff:     toProtoIntervals(res.TimeOff),
		})
	}
	return resp, nil
}

func toProtoIntervals(in []dayconfig.Interval) []*businessv1.Interval {
	out := make([]*businessv1.Interval, 0, len(in))
	for _, i := range in {
		out = append(out, &businessv1.Interval{
			Start: timestamppb.New(i.Start),
			End:   timestamppb.New(i.End),
		})
	}
	return out
}
