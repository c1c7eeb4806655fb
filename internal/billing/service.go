package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-hms/meridian/internal/admissions"
	"github.com/meridian-hms/meridian/internal/shared"
)

// AdmissionDirectory resolves admissions for charge validation.
type AdmissionDirectory interface {
	Get(ctx context.Context, id int64) (admissions.Admission, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the charge ledger, balance reads and invoice generation.
type Service struct {
	repo     RepositoryPort
	dir      AdmissionDirectory
	audit    AuditPort
	cache    *Cache
	mealRate decimal.Decimal
	now      func() time.Time
}

// NewService builds Service. mealRate is the flat daily diet amount; zero
// disables diet charges.
func NewService(repo RepositoryPort, dir AdmissionDirectory, audit AuditPort, cache *Cache, mealRate decimal.Decimal) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		audit:    audit,
		cache:    cache,
		mealRate: mealRate,
		now:      time.Now,
	}
}

func (s *Service) admission(ctx context.Context, id int64) (admissions.Admission, error) {
	adm, err := s.dir.Get(ctx, id)
	if errors.Is(err, admissions.ErrNotFound) {
		return admissions.Admission{}, ErrAdmissionNotFound
	}
	return adm, err
}

// CreateCharge posts a manual charge. The admission must exist but may already
// be discharged: late charges land as unbilled lines for a later invoice.
func (s *Service) CreateCharge(ctx context.Context, input CreateChargeInput) (Charge, error) {
	if !manualChargeTypes[input.Type] {
		return Charge{}, ErrInvalidChargeType
	}
	if input.Quantity <= 0 {
		return Charge{}, ErrInvalidQuantity
	}
	if _, err := s.admission(ctx, input.AdmissionID); err != nil {
		return Charge{}, err
	}

	chargeDate := normalizeDate(input.ChargeDate)
	if input.ChargeDate.IsZero() {
		chargeDate = normalizeDate(s.now())
	}

	var charge Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		charge, err = tx.InsertCharge(ctx, Charge{
			AdmissionID:     input.AdmissionID,
			Type:            input.Type,
			Description:     input.Description,
			Quantity:        input.Quantity,
			UnitPrice:       input.UnitPrice,
			TotalAmount:     input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))),
			ChargeDate:      chargeDate,
			InventoryItemID: input.InventoryItemID,
			CreatedBy:       input.ActorID,
		})
		return err
	})
	if err != nil {
		return Charge{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, "billing:charge", charge)
	return charge, nil
}

// CreateAdjustment posts a signed correction line. A reason is mandatory and
// the amount is taken as-is, so credits carry a negative amount.
func (s *Service) CreateAdjustment(ctx context.Context, input AdjustmentInput) (Charge, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Charge{}, ErrReasonRequired
	}
	if _, err := s.admission(ctx, input.AdmissionID); err != nil {
		return Charge{}, err
	}

	var charge Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		charge, err = tx.InsertCharge(ctx, Charge{
			AdmissionID: input.AdmissionID,
			Type:        ChargeTypeAdjustment,
			Description: input.Description,
			Quantity:    1,
			UnitPrice:   input.Amount,
			TotalAmount: input.Amount,
			ChargeDate:  normalizeDate(s.now()),
			Reason:      reason,
			CreatedBy:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return Charge{}, err
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, "billing:adjustment", charge)
	return charge, nil
}

// PostRoomCharge posts one day of room rent for an admission. The call is
// idempotent per (admission, day): a repeat returns the existing charge with
// posted=false.
func (s *Service) PostRoomCharge(ctx context.Context, input RecurringChargeInput) (Charge, bool, error) {
	date := normalizeDate(input.ChargeDate)
	return s.postRecurring(ctx, Charge{
		AdmissionID: input.AdmissionID,
		Type:        ChargeTypeRoom,
		Description: fmt.Sprintf("Room charge %s", date.Format("2006-01-02")),
		Quantity:    1,
		UnitPrice:   input.Amount,
		TotalAmount: input.Amount,
		ChargeDate:  date,
		RoomID:      &input.RoomID,
	})
}

// PostDietCharge posts one day of meals at the configured flat rate,
// idempotent per (admission, day).
func (s *Service) PostDietCharge(ctx context.Context, admissionID int64, day time.Time) (Charge, bool, error) {
	if s.mealRate.Sign() <= 0 {
		return Charge{}, false, ErrDietRateNotConfigured
	}
	date := normalizeDate(day)
	return s.postRecurring(ctx, Charge{
		AdmissionID: admissionID,
		Type:        ChargeTypeDiet,
		Description: fmt.Sprintf("Daily meals %s", date.Format("2006-01-02")),
		Quantity:    1,
		UnitPrice:   s.mealRate,
		TotalAmount: s.mealRate,
		ChargeDate:  date,
	})
}

// FinalDayCharges posts the last stay day's room and diet charges for an
// admission, typically right after discharge. The day is the discharge date
// when set, otherwise today. Both posts are idempotent, so running this on a
// day the scheduler already covered adds nothing; only newly posted charges
// are returned.
func (s *Service) FinalDayCharges(ctx context.Context, admissionID int64) ([]Charge, error) {
	adm, err := s.admission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	day := s.now()
	if adm.DischargedAt != nil {
		day = *adm.DischargedAt
	}

	var posted []Charge
	if adm.RoomID != nil && adm.RoomRate.Sign() > 0 {
		charge, fresh, err := s.PostRoomCharge(ctx, RecurringChargeInput{
			AdmissionID: admissionID,
			RoomID:      *adm.RoomID,
			ChargeDate:  day,
			Amount:      adm.RoomRate,
		})
		if err != nil {
			return nil, err
		}
		if fresh {
			posted = append(posted, charge)
		}
	}
	if adm.Type == admissions.TypeHospitalization {
		charge, fresh, err := s.PostDietCharge(ctx, admissionID, day)
		switch {
		case errors.Is(err, ErrDietRateNotConfigured):
		case err != nil:
			return nil, err
		case fresh:
			posted = append(posted, charge)
		}
	}
	return posted, nil
}

func (s *Service) postRecurring(ctx context.Context, charge Charge) (Charge, bool, error) {
	posted := true
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertCharge(ctx, charge)
		if errors.Is(err, errRecurringExists) {
			existing, findErr := tx.FindRecurringCharge(ctx, charge.AdmissionID, charge.Type, charge.ChargeDate, charge.RoomID)
			if findErr != nil {
				return findErr
			}
			charge = existing
			posted = false
			return nil
		}
		if err != nil {
			return err
		}
		charge = inserted
		return nil
	})
	if err != nil {
		return Charge{}, false, err
	}
	if posted {
		s.invalidate(ctx)
	}
	return charge, posted, nil
}

// Charges lists an admission's charges, oldest first.
func (s *Service) Charges(ctx context.Context, admissionID int64, filter ChargeFilter) ([]Charge, error) {
	if _, err := s.admission(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.ListCharges(ctx, admissionID, filter)
}

// Balance computes the admission's running total with a per-day breakdown.
// Results are served from the versioned cache; any charge or invoice write
// bumps the version.
func (s *Service) Balance(ctx context.Context, admissionID int64) (Balance, error) {
	if _, err := s.admission(ctx, admissionID); err != nil {
		return Balance{}, err
	}

	key, err := s.cache.BuildKey(ctx, keyBalance(admissionID))
	if err != nil {
		return Balance{}, err
	}
	var balance Balance
	err = s.cache.FetchJSON(ctx, key, &balance, func(ctx context.Context) (interface{}, error) {
		charges, err := s.repo.ListCharges(ctx, admissionID, FilterAll)
		if err != nil {
			return nil, err
		}
		return buildBalance(admissionID, charges), nil
	})
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// buildBalance folds charges, already ordered by date, into daily buckets with
// a cumulative running total.
func buildBalance(admissionID int64, charges []Charge) Balance {
	balance := Balance{
		AdmissionID:  admissionID,
		TotalBalance: decimal.Zero,
		Days:         []DailyBalance{},
	}
	for _, c := range charges {
		day := normalizeDate(c.ChargeDate)
		if len(balance.Days) == 0 || !balance.Days[len(balance.Days)-1].Date.Equal(day) {
			balance.Days = append(balance.Days, DailyBalance{
				Date:       day,
				DailyTotal: decimal.Zero,
			})
		}
		bucket := &balance.Days[len(balance.Days)-1]
		bucket.DailyTotal = bucket.DailyTotal.Add(c.TotalAmount)
		bucket.Charges = append(bucket.Charges, BalanceLine{
			ChargeID:    c.ID,
			Type:        c.Type,
			Description: c.Description,
			Quantity:    c.Quantity,
			UnitPrice:   c.UnitPrice,
			TotalAmount: c.TotalAmount,
		})
		balance.TotalBalance = balance.TotalBalance.Add(c.TotalAmount)
		bucket.CumulativeTotal = balance.TotalBalance
	}
	return balance
}

// GenerateInvoice snapshots every unbilled charge of a discharged admission
// into a single immutable invoice. An admission gets at most one invoice; an
// empty invoice with a zero total is legal.
func (s *Service) GenerateInvoice(ctx context.Context, admissionID, actorID int64) (Invoice, error) {
	adm, err := s.admission(ctx, admissionID)
	if err != nil {
		return Invoice{}, err
	}
	if !adm.IsDischarged() {
		return Invoice{}, ErrAdmissionNotDischarged
	}

	var invoice Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.HasInvoice(ctx, admissionID)
		if err != nil {
			return err
		}
		if exists {
			return ErrInvoiceAlreadyExists
		}

		charges, err := tx.ListUnbilled(ctx, admissionID)
		if err != nil {
			return err
		}

		total := decimal.Zero
		subtotals := summarize(charges)
		for _, sub := range subtotals {
			total = total.Add(sub.Amount)
		}

		invoice, err = tx.InsertInvoice(ctx, Invoice{
			AdmissionID: admissionID,
			TotalAmount: total,
			ChargeCount: len(charges),
			GeneratedBy: actorID,
		})
		if err != nil {
			return err
		}
		invoice.TotalAmount = total
		invoice.ChargeCount = len(charges)
		invoice.Subtotals = subtotals
		invoice.GeneratedBy = actorID

		invoice.Number = fmt.Sprintf("INV-%d-%04d", s.now().Year(), invoice.ID)
		if err := tx.SetInvoiceNumber(ctx, invoice.ID, invoice.Number); err != nil {
			return err
		}

		if len(charges) > 0 {
			ids := make([]int64, len(charges))
			for i, c := range charges {
				ids[i] = c.ID
			}
			affected, err := tx.AssignCharges(ctx, invoice.ID, ids)
			if err != nil {
				return err
			}
			if affected != int64(len(ids)) {
				return ErrChargeAlreadyInvoiced
			}
		}
		return tx.InsertSubtotals(ctx, invoice.ID, subtotals)
	})
	if err != nil {
		return Invoice{}, err
	}

	s.invalidate(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "billing:invoice",
			Entity:   "invoice",
			EntityID: fmt.Sprintf("%d", invoice.ID),
			Meta: map[string]any{
				"admission_id": admissionID,
				"number":       invoice.Number,
				"total":        invoice.TotalAmount.String(),
				"charge_count": invoice.ChargeCount,
			},
			At: s.now(),
		})
	}
	return invoice, nil
}

// Invoice returns an admission's invoice with its frozen charge lines.
func (s *Service) Invoice(ctx context.Context, admissionID int64) (Invoice, []Charge, error) {
	if _, err := s.admission(ctx, admissionID); err != nil {
		return Invoice{}, nil, err
	}
	return s.repo.GetInvoice(ctx, admissionID)
}

// summarize groups charges into per-type subtotals, ordered by type name.
func summarize(charges []Charge) []TypeSubtotal {
	byType := make(map[ChargeType]*TypeSubtotal)
	var order []ChargeType
	for _, c := range charges {
		sub, ok := byType[c.Type]
		if !ok {
			sub = &TypeSubtotal{Type: c.Type, Amount: decimal.Zero}
			byType[c.Type] = sub
			order = append(order, c.Type)
		}
		sub.Count++
		sub.Amount = sub.Amount.Add(c.TotalAmount)
	}
	out := make([]TypeSubtotal, 0, len(order))
	for _, t := range order {
		out = append(out, *byType[t])
	}
	return out
}

func (s *Service) invalidate(ctx context.Context) {
	_ = s.cache.Bump(ctx)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, charge Charge) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "charge",
		EntityID: fmt.Sprintf("%d", charge.ID),
		Meta: map[string]any{
			"admission_id": charge.AdmissionID,
			"type":         string(charge.Type),
			"total":        charge.TotalAmount.String(),
		},
		At: s.now(),
	})
}
