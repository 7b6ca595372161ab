package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Cheertaboi/meal-reservation-service/internal/deadline"
	"github.com/Cheertaboi/meal-reservation-service/internal/events"
	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/visibility"
)

const (
	DefaultOpTimeout      = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
	DefaultPageSize       = 50
)

type AllocatorDeps struct {
	Store     Store
	Policy    *deadline.Policy
	Directory Directory
	Publisher Publisher
	Logger    *zap.Logger
	Tracer    trace.Tracer
	// Timeout bounds every Reserve/Cancel, including lock waits.
	Timeout time.Duration
	// PublishTimeout bounds the post-commit event write.
	PublishTimeout time.Duration
	PageSize       int
	Now            func() time.Time
}

// Allocator is the only writer of reserved_quantity. Every mutation runs as
// one storage transaction: conditional increment plus insert for Reserve,
// conditional transition plus decrement for Cancel.
type Allocator struct {
	store     Store
	policy    *deadline.Policy
	directory Directory
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	pubWait   time.Duration
	pageSize  int
	now       func() time.Time
}

func NewAllocator(d AllocatorDeps) *Allocator {
	a := &Allocator{
		store:     d.Store,
		policy:    d.Policy,
		directory: d.Directory,
		publisher: d.Publisher,
		logger:    d.Logger,
		tracer:    d.Tracer,
		timeout:   d.Timeout,
		pubWait:   d.PublishTimeout,
		pageSize:  d.PageSize,
		now:       d.Now,
	}
	if a.policy == nil {
		a.policy = deadline.NewPolicy(time.Local)
	}
	if a.publisher == nil {
		a.publisher = events.Discard{}
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("reservation-allocator")
	}
	if a.timeout <= 0 {
		a.timeout = DefaultOpTimeout
	}
	if a.pubWait <= 0 {
		a.pubWait = DefaultPublishTimeout
	}
	if a.pageSize <= 0 {
		a.pageSize = DefaultPageSize
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Reserve books one unit of optionID for claimant on behalf of who.
func (a *Allocator) Reserve(ctx context.Context, optionID int64, who models.Requester, claimant models.Claimant) (models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "allocator.reserve")
	defer span.End()

	if err := validateClaimant(who, claimant); err != nil {
		return models.Reservation{}, a.fail(span, "reserve", err, zap.Int64("option_id", optionID))
	}
	span.SetAttributes(
		attribute.Int64("option.id", optionID),
		attribute.Int64("owner.id", claimant.OwnerID()),
		attribute.String("reservation.kind", string(claimant.Kind())),
	)

	now := a.now()
	var res models.Reservation
	err := a.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		held, err := tx.HasActiveClaim(ctx, optionID, claimant.ClaimKey())
		if err != nil {
			return fmt.Errorf("check claim: %w", err)
		}
		if held {
			return fmt.Errorf("%w: option %d", models.ErrDuplicateClaim, optionID)
		}

		opt, ok, err := tx.ClaimUnit(ctx, optionID, now)
		if err != nil {
			return fmt.Errorf("claim unit: %w", err)
		}
		if !ok {
			return a.explainRefusal(ctx, tx, optionID, who, now)
		}
		// The increment is undone by rollback if either check fails.
		if !visibility.CanReserve(who, opt) {
			return fmt.Errorf("%w: option %d is not served to your centers", models.ErrForbidden, optionID)
		}
		if err := a.policy.Check(opt.CancellationDeadline, now); err != nil {
			return err
		}

		res = models.Reservation{
			Kind:                 claimant.Kind(),
			OwnerID:              claimant.OwnerID(),
			Guest:                claimant.GuestInfo(),
			ClaimKey:             claimant.ClaimKey(),
			OptionID:             opt.ID,
			OptionInfo:           opt.Snapshot(),
			Amount:               opt.Price,
			Status:               models.StatusActive,
			CancellationDeadline: opt.CancellationDeadline,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := tx.InsertReservation(ctx, &res); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Reservation{}, a.fail(span, "reserve", classify(ctx, err),
			zap.Int64("option_id", optionID),
			zap.Int64("owner_id", claimant.OwnerID()),
		)
	}

	span.SetAttributes(attribute.Int64("reservation.id", res.ID))
	span.SetStatus(codes.Ok, "reserved")
	a.logger.Info("reservation created",
		zap.Int64("reservation_id", res.ID),
		zap.Int64("option_id", optionID),
		zap.Int64("owner_id", res.OwnerID),
		zap.String("kind", string(res.Kind)),
	)
	a.publish(ctx, events.New(events.ReservationCreated, who.UserID, res, now))
	return res, nil
}

// Cancel moves an active reservation to cancelled and returns its unit to the
// option. The window is the reservation's own snapshot deadline, not the
// option's current one.
func (a *Allocator) Cancel(ctx context.Context, reservationID int64, who models.Requester) error {
	_, err := a.CancelReservation(ctx, reservationID, who)
	return err
}

// CancelReservation is Cancel returning the cancelled record.
func (a *Allocator) CancelReservation(ctx context.Context, reservationID int64, who models.Requester) (models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "allocator.cancel",
		trace.WithAttributes(attribute.Int64("reservation.id", reservationID)))
	defer span.End()

	current, err := a.store.GetReservation(ctx, reservationID)
	if err != nil {
		return models.Reservation{}, a.fail(span, "cancel", classify(ctx, err), zap.Int64("reservation_id", reservationID))
	}
	if err := a.CanView(ctx, who, current.OwnerID); err != nil {
		return models.Reservation{}, a.fail(span, "cancel", classify(ctx, err), zap.Int64("reservation_id", reservationID))
	}

	now := a.now()
	var cancelled models.Reservation
	err = a.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !r.IsActive() {
			return fmt.Errorf("%w: reservation %d", models.ErrAlreadyCancelled, r.ID)
		}
		if err := a.policy.Check(r.CancellationDeadline, now); err != nil {
			return err
		}

		ok, err := tx.MarkCancelled(ctx, r.ID, who.UserID, now)
		if err != nil {
			return fmt.Errorf("mark cancelled: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: reservation %d", models.ErrAlreadyCancelled, r.ID)
		}
		if r.OptionID != 0 {
			if err := tx.ReleaseUnit(ctx, r.OptionID, now); err != nil {
				return fmt.Errorf("release unit: %w", err)
			}
		}

		by := who.UserID
		r.Status = models.StatusCancelled
		r.CancelledAt = &now
		r.CancelledBy = &by
		r.UpdatedAt = now
		cancelled = r
		return nil
	})
	if err != nil {
		return models.Reservation{}, a.fail(span, "cancel", classify(ctx, err), zap.Int64("reservation_id", reservationID))
	}

	span.SetStatus(codes.Ok, "cancelled")
	a.logger.Info("reservation cancelled",
		zap.Int64("reservation_id", cancelled.ID),
		zap.Int64("option_id", cancelled.OptionID),
		zap.Int64("cancelled_by", who.UserID),
	)
	a.publish(ctx, events.New(events.ReservationCancelled, who.UserID, cancelled, now))
	return cancelled, nil
}

// Modify moves an active reservation to newOptionID while the reservation's
// own deadline window is open. One unit is claimed on the target and one
// released on the old option in the same transaction, and the snapshot is
// retaken from the target.
func (a *Allocator) Modify(ctx context.Context, reservationID, newOptionID int64, who models.Requester) (models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "allocator.modify",
		trace.WithAttributes(
			attribute.Int64("reservation.id", reservationID),
			attribute.Int64("option.id", newOptionID),
		))
	defer span.End()

	fields := []zap.Field{zap.Int64("reservation_id", reservationID), zap.Int64("option_id", newOptionID)}
	current, err := a.store.GetReservation(ctx, reservationID)
	if err != nil {
		return models.Reservation{}, a.fail(span, "modify", classify(ctx, err), fields...)
	}
	if err := a.CanView(ctx, who, current.OwnerID); err != nil {
		return models.Reservation{}, a.fail(span, "modify", classify(ctx, err), fields...)
	}

	now := a.now()
	var moved models.Reservation
	err = a.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !r.IsActive() {
			return fmt.Errorf("%w: reservation %d", models.ErrAlreadyCancelled, r.ID)
		}
		if r.OptionID == newOptionID {
			return fmt.Errorf("%w: reservation %d is already on option %d", models.ErrInvalidInput, r.ID, newOptionID)
		}
		if err := a.policy.Check(r.CancellationDeadline, now); err != nil {
			return err
		}

		held, err := tx.HasActiveClaim(ctx, newOptionID, r.ClaimKey)
		if err != nil {
			return fmt.Errorf("check claim: %w", err)
		}
		if held {
			return fmt.Errorf("%w: option %d", models.ErrDuplicateClaim, newOptionID)
		}
		opt, ok, err := tx.ClaimUnit(ctx, newOptionID, now)
		if err != nil {
			return fmt.Errorf("claim unit: %w", err)
		}
		if !ok {
			return a.explainRefusal(ctx, tx, newOptionID, who, now)
		}
		if !visibility.CanReserve(who, opt) {
			return fmt.Errorf("%w: option %d is not served to your centers", models.ErrForbidden, newOptionID)
		}
		if err := a.policy.Check(opt.CancellationDeadline, now); err != nil {
			return err
		}
		if r.OptionID != 0 {
			if err := tx.ReleaseUnit(ctx, r.OptionID, now); err != nil {
				return fmt.Errorf("release unit: %w", err)
			}
		}

		r.OptionID = opt.ID
		r.OptionInfo = opt.Snapshot()
		r.Amount = opt.Price
		r.CancellationDeadline = opt.CancellationDeadline
		r.UpdatedAt = now
		ok, err = tx.MoveReservation(ctx, r)
		if err != nil {
			return fmt.Errorf("move reservation: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: reservation %d", models.ErrAlreadyCancelled, r.ID)
		}
		moved = r
		return nil
	})
	if err != nil {
		return models.Reservation{}, a.fail(span, "modify", classify(ctx, err), fields...)
	}

	span.SetStatus(codes.Ok, "modified")
	a.logger.Info("reservation modified",
		zap.Int64("reservation_id", moved.ID),
		zap.Int64("from_option_id", current.OptionID),
		zap.Int64("option_id", moved.OptionID),
	)
	a.publish(ctx, events.New(events.ReservationModified, who.UserID, moved, now))
	return moved, nil
}

// CanView authorizes who to see or act on ownerID's reservations.
func (a *Allocator) CanView(ctx context.Context, who models.Requester, ownerID int64) error {
	if who.IsSystemAdmin || who.UserID == ownerID {
		return nil
	}
	if a.directory == nil {
		return fmt.Errorf("%w: reservations of user %d", models.ErrForbidden, ownerID)
	}
	centers, err := a.directory.CentersOf(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("resolve centers of user %d: %w", ownerID, err)
	}
	if !visibility.CanAccess(who.Centers, centers, who.IsSystemAdmin) {
		return fmt.Errorf("%w: reservations of user %d", models.ErrForbidden, ownerID)
	}
	return nil
}

// Policy exposes the deadline policy for read views (can_cancel, time left).
func (a *Allocator) Policy() *deadline.Policy { return a.policy }

// Now is the allocator's clock.
func (a *Allocator) Now() time.Time { return a.now() }

// explainRefusal turns a failed conditional increment into the most specific
// error, checked in the same transaction.
func (a *Allocator) explainRefusal(ctx context.Context, tx Tx, optionID int64, who models.Requester, now time.Time) error {
	opt, err := tx.GetOption(ctx, optionID)
	if err != nil {
		return err
	}
	if !opt.IsActive {
		return fmt.Errorf("%w: option %d", models.ErrOptionInactive, optionID)
	}
	if !visibility.CanReserve(who, opt) {
		return fmt.Errorf("%w: option %d is not served to your centers", models.ErrForbidden, optionID)
	}
	if err := a.policy.Check(opt.CancellationDeadline, now); err != nil {
		return err
	}
	return fmt.Errorf("%w: option %d has %d of %d reserved", models.ErrCapacityExhausted, optionID, opt.ReservedQuantity, opt.Quantity)
}

// classify folds context expiry into the retryable Timeout error.
func classify(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, models.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || (ctx.Err() != nil && !isDomainError(err)) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}

func (a *Allocator) fail(span trace.Span, op string, err error, fields ...zap.Field) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields = append(fields, zap.Error(err))
	switch {
	case isDomainError(err):
		a.logger.Info(op+" rejected", fields...)
	case models.Retryable(err):
		a.logger.Warn(op+" timed out", fields...)
	default:
		a.logger.Error(op+" failed", fields...)
	}
	return err
}

func (a *Allocator) publish(ctx context.Context, evt events.Event) {
	// The reservation is already committed; a lost event is logged, not
	// surfaced to the caller.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.pubWait)
	defer cancel()
	if err := a.publisher.Publish(ctx, evt); err != nil {
		a.logger.Error("publish reservation event",
			zap.String("event_type", string(evt.Type)),
			zap.Int64("reservation_id", evt.Reservation.ID),
			zap.Error(err),
		)
	}
}

func validateClaimant(who models.Requester, c models.Claimant) error {
	if c == nil {
		return fmt.Errorf("%w: claimant is required", models.ErrInvalidInput)
	}
	if c.OwnerID() <= 0 {
		return fmt.Errorf("%w: claimant owner is required", models.ErrInvalidInput)
	}
	if g := c.GuestInfo(); g != nil {
		if strings.TrimSpace(g.FirstName) == "" || strings.TrimSpace(g.LastName) == "" {
			return fmt.Errorf("%w: guest first and last name are required", models.ErrInvalidInput)
		}
		if utf8.RuneCountInString(g.FirstName) > models.MaxGuestNameLen || utf8.RuneCountInString(g.LastName) > models.MaxGuestNameLen {
			return fmt.Errorf("%w: guest names are limited to %d characters", models.ErrInvalidInput, models.MaxGuestNameLen)
		}
	}
	if c.OwnerID() != who.UserID && !who.IsSystemAdmin {
		return fmt.Errorf("%w: cannot reserve on behalf of user %d", models.ErrForbidden, c.OwnerID())
	}
	return nil
}

var domainErrors = []error{
	models.ErrCapacityExhausted,
	models.ErrDuplicateClaim,
	models.ErrDeadlinePassed,
	models.ErrOptionInactive,
	models.ErrInvalidCapacityEdit,
	models.ErrInvalidDeadlineConfig,
	models.ErrNotFound,
	models.ErrAlreadyCancelled,
	models.ErrForbidden,
	models.ErrInvalidInput,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
