//go:build protogen

package scheduling

import (
	"context"
	"time"

	"github.com/slotpage/slotpage/libs/grpcx"
	businessv1 "github.com/slotpage/slotpage/protos/gen/business/v1"
	"github.com/slotpage/slotpage/services/booking-service/internal/availability"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// GRPCProvider fetches day configuration over business-service's gRPC API.
// Only compiled when the generated protobuf bindings are present.
type GRPCProvider struct {
	conn   *grpc.ClientConn
	client businessv1.AvailabilityServiceClient
}

func NewGRPCProvider(addr string) (*GRPCProvider, error) {
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	return &GRPCProvider{conn: conn, client: businessv1.NewAvailabilityServiceClient(conn)}, nil
}

func (p *GRPCProvider) Close() error { return p.conn.Close() }

func (p *GRPCProvider) DayConfigForDate(ctx context.Context, businessID, serviceID, workerID, date string) (DayConfig, error) {
	resp, err := p.client.GetDayConfig(ctx, &businessv1.DayConfigRequest{
		BusinessId: businessID,
		ServiceId:  serviceID,
		WorkerId:   workerID,
		Date:       date,
	})
	if err != nil {
		return DayConfig{}, err
	}
	return fromProto(resp), nil
}

func (p *GRPCProvider) DayConfigAt(ctx context.Context, businessID, serviceID, workerID string, at time.Time) (DayConfig, error) {
	resp, err := p.client.GetDayConfig(ctx, &businessv1.DayConfigRequest{
		BusinessId: businessID,
		ServiceId:  serviceID,
		WorkerId:   workerID,
		At:         timestamppb.New(at.UTC()),
	})
	if err != nil {
		return DayConfig{}, err
	}
	return fromProto(resp), nil
}

func fromProto(resp *businessv1.DayConfigResponse) DayConfig {
	cfg := DayConfig{
		BusinessID:      resp.GetBusinessId(),
		Timezone:        resp.GetTimezone(),
		Mode:            Mode(resp.GetAvailabilityMode()),
		ServiceID:       resp.GetServiceId(),
		ServiceName:     resp.GetServiceName(),
		DurationMinutes: int(resp.GetDurationMinutes()),
		PriceCents:      resp.GetPriceCents(),
	}
	if pol := resp.GetPolicy(); pol != nil {
		cfg.Policy = Policy{
			RequireManualConfirmation: pol.GetRequireManualConfirmation(),
			RequestDeposit:            pol.GetRequestDeposit(),
			DepositPercentage:         int(pol.GetDepositPercentage()),
			SlotStepMinutes:           int(pol.GetSlotStepMinutes()),
		}
		for _, m := range pol.GetReminderOffsetsMinutes() {
			cfg.Policy.ReminderOffsetsMinutes = append(cfg.Policy.ReminderOffsetsMinutes, int(m))
		}
	}
	for _, res := range resp.GetResources() {
		cfg.Resources = append(cfg.Resources, ResourceDay{
			WorkerID:    res.GetWorkerId(),
			CalendarRef: res.GetCalendarRef(),
			Windows:     protoIntervals(res.GetWindows()),
			TimeOff:     protoIntervals(res.GetTimeOff()),
		})
	}
	return cfg
}

func protoIntervals(in []*businessv1.Interval) []availability.Interval {
	out := make([]availability.Interval, 0, len(in))
	for _, i := range in {
		start := i.GetStart().AsTime()
		end := i.GetEnd().AsTime()
		if end.After(start) {
			out = append(out, availability.Interval{Start: start, End: end})
		}
	}
	return out
}
