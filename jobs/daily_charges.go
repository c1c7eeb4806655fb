package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-hms/meridian/internal/admissions"
	"github.com/meridian-hms/meridian/internal/billing"
	jobmetrics "github.com/meridian-hms/meridian/internal/jobs"
)

// AdmissionSource lists the admissions due for daily charges.
type AdmissionSource interface {
	ListActive(ctx context.Context) ([]admissions.Admission, error)
}

// ChargePoster posts idempotent recurring charges.
type ChargePoster interface {
	PostRoomCharge(ctx context.Context, input billing.RecurringChargeInput) (billing.Charge, bool, error)
	PostDietCharge(ctx context.Context, admissionID int64, day time.Time) (billing.Charge, bool, error)
}

// DailyChargesJob posts one room charge and, for hospitalizations, one diet
// charge per active admission per day. Re-runs are safe: the posting calls are
// idempotent per (admission, day).
type DailyChargesJob struct {
	Source  AdmissionSource
	Poster  ChargePoster
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeDailyCharges tasks.
func (j *DailyChargesJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.Metrics.Track(TaskTypeDailyCharges)
	var payload DailyChargesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	day := time.Now().UTC()
	if payload.Date != "" {
		parsed, err := time.Parse("2006-01-02", payload.Date)
		if err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		day = parsed
	}

	active, err := j.Source.ListActive(ctx)
	if err != nil {
		return tracker.End(err)
	}

	var rooms, diets atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, adm := range active {
		adm := adm
		g.Go(func() error {
			return j.chargeAdmission(ctx, adm, day, &rooms, &diets)
		})
	}
	if err := g.Wait(); err != nil {
		return tracker.End(err)
	}
	j.Metrics.AddCharges(string(billing.ChargeTypeRoom), int(rooms.Load()))
	j.Metrics.AddCharges(string(billing.ChargeTypeDiet), int(diets.Load()))
	j.Logger.Info("daily charges posted",
		slog.String("date", day.Format("2006-01-02")),
		slog.Int("admissions", len(active)),
		slog.Int64("room_charges", rooms.Load()),
		slog.Int64("diet_charges", diets.Load()))
	return tracker.End(nil)
}

func (j *DailyChargesJob) chargeAdmission(ctx context.Context, adm admissions.Admission, day time.Time, rooms, diets *atomic.Int64) error {
	if adm.RoomID != nil && adm.RoomRate.Sign() > 0 {
		_, posted, err := j.Poster.PostRoomCharge(ctx, billing.RecurringChargeInput{
			AdmissionID: adm.ID,
			RoomID:      *adm.RoomID,
			ChargeDate:  day,
			Amount:      adm.RoomRate,
		})
		if err != nil {
			return err
		}
		if posted {
			rooms.Add(1)
		} else {
			j.Logger.Debug("room charge already posted",
				slog.Int64("admission_id", adm.ID), slog.Time("date", day))
		}
	}

	if adm.Type == admissions.TypeHospitalization {
		_, posted, err := j.Poster.PostDietCharge(ctx, adm.ID, day)
		if errors.Is(err, billing.ErrDietRateNotConfigured) {
			return nil
		}
		if err == nil && posted {
			diets.Add(1)
		}
		return err
	}
	return nil
}
