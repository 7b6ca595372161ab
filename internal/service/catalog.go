package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Cheertaboi/meal-reservation-service/internal/concurrency"
	"github.com/Cheertaboi/meal-reservation-service/internal/deadline"
	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

const defaultVerifyWorkers = 8

// Catalog is the menu-management side of options. It never touches
// reserved_quantity except through the capacity guard on edits.
type Catalog struct {
	store         Store
	policy        *deadline.Policy
	logger        *zap.Logger
	timeout       time.Duration
	verifyWorkers int
	now           func() time.Time
}

func NewCatalog(store Store, policy *deadline.Policy, logger *zap.Logger) *Catalog {
	if policy == nil {
		policy = deadline.NewPolicy(time.Local)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		store:         store,
		policy:        policy,
		logger:        logger,
		timeout:       DefaultOpTimeout,
		verifyWorkers: defaultVerifyWorkers,
		now:           time.Now,
	}
}

// WithTimeout sets the bound applied to every catalog call. Non-positive
// values keep the current one.
func (c *Catalog) WithTimeout(d time.Duration) *Catalog {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Publish stores a new option from menu publication. reserved_quantity always
// starts at zero and the option starts active.
func (c *Catalog) Publish(ctx context.Context, opt models.MenuOption) (models.MenuOption, error) {
	if opt.Kind == "" {
		opt.Kind = models.OptionKindFood
	}
	opt.Title = strings.TrimSpace(opt.Title)
	opt.CancellationDeadline = strings.TrimSpace(opt.CancellationDeadline)
	if err := c.validate(opt); err != nil {
		return models.MenuOption{}, err
	}
	if opt.DailyMenuID <= 0 {
		return models.MenuOption{}, fmt.Errorf("%w: daily menu is required", models.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	opt.ID = 0
	opt.ReservedQuantity = 0
	opt.IsActive = true
	opt.CreatedAt = now
	opt.UpdatedAt = now

	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOption(ctx, &opt)
	})
	if err != nil {
		return models.MenuOption{}, classify(ctx, fmt.Errorf("publish option: %w", err))
	}
	c.logger.Info("option published",
		zap.Int64("option_id", opt.ID),
		zap.Int64("daily_menu_id", opt.DailyMenuID),
		zap.Int("quantity", opt.Quantity),
	)
	return opt, nil
}

// Edit applies a partial update. Shrinking quantity below the outstanding
// reservations fails with ErrInvalidCapacityEdit and changes nothing.
func (c *Catalog) Edit(ctx context.Context, id int64, edit models.OptionEdit) (models.MenuOption, error) {
	if edit.Title != nil {
		t := strings.TrimSpace(*edit.Title)
		edit.Title = &t
	}
	if edit.CancellationDeadline != nil {
		d := strings.TrimSpace(*edit.CancellationDeadline)
		edit.CancellationDeadline = &d
	}
	// Validate the edited fields in isolation; quantity against reservations
	// is checked by the store's conditional update.
	candidate := edit.Apply(models.MenuOption{Title: "-", Kind: models.OptionKindFood})
	if err := c.validate(candidate); err != nil {
		return models.MenuOption{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var updated models.MenuOption
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		opt, ok, err := tx.EditOption(ctx, id, edit, c.now())
		if err != nil {
			return err
		}
		if ok {
			updated = opt
			return nil
		}
		current, err := tx.GetOption(ctx, id)
		if err != nil {
			return err
		}
		if edit.Quantity == nil {
			return fmt.Errorf("edit option %d: no row updated", id)
		}
		return fmt.Errorf("%w: option %d has %d reserved, requested quantity %d",
			models.ErrInvalidCapacityEdit, id, current.ReservedQuantity, *edit.Quantity)
	})
	if err != nil {
		return models.MenuOption{}, classify(ctx, err)
	}
	c.logger.Info("option edited", zap.Int64("option_id", id))
	return updated, nil
}

func (c *Catalog) Deactivate(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetOptionActive(ctx, id, false, c.now())
	})
	if err != nil {
		return classify(ctx, err)
	}
	c.logger.Info("option deactivated", zap.Int64("option_id", id))
	return nil
}

// Remove deletes the option when nothing active references it and otherwise
// soft-deactivates it. deleted reports which one happened. The option row is
// locked first so an in-flight reserve either commits before the check or
// waits for the delete.
func (c *Catalog) Remove(ctx context.Context, id int64) (deleted bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockOption(ctx, id); err != nil {
			return err
		}
		deleted, err = tx.DeleteOptionIfUnused(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return tx.SetOptionActive(ctx, id, false, c.now())
		}
		return nil
	})
	if err != nil {
		return false, classify(ctx, err)
	}
	c.logger.Info("option removed", zap.Int64("option_id", id), zap.Bool("deleted", deleted))
	return deleted, nil
}

func (c *Catalog) Get(ctx context.Context, id int64) (models.MenuOption, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	opt, err := c.store.GetOption(ctx, id)
	return opt, classify(ctx, err)
}

func (c *Catalog) ListForMenu(ctx context.Context, dailyMenuID int64) ([]models.MenuOption, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	opts, err := c.store.ListOptions(ctx, dailyMenuID)
	return opts, classify(ctx, err)
}

// VerifyCounters compares every option's reserved_quantity with its active
// reservations. Any drift is logged at error level; it should never happen.
func (c *Catalog) VerifyCounters(ctx context.Context) ([]models.CounterDrift, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids, err := c.store.ListOptionIDs(ctx)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("list options: %w", err))
	}

	var (
		mu     sync.Mutex
		drifts []models.CounterDrift
	)
	err = concurrency.ForEach(ctx, ids, c.verifyWorkers, func(ctx context.Context, id int64) error {
		reserved, active, err := c.store.CounterSnapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("option %d: %w", id, err)
		}
		if reserved == active {
			return nil
		}
		c.logger.Error("reserved quantity drift",
			zap.Int64("option_id", id),
			zap.Int("reserved_quantity", reserved),
			zap.Int("active_reservations", active),
		)
		mu.Lock()
		drifts = append(drifts, models.CounterDrift{OptionID: id, ReservedQuantity: reserved, ActiveCount: active})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return drifts, nil
}

func (c *Catalog) validate(opt models.MenuOption) error {
	if opt.Title == "" {
		return fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if utf8.RuneCountInString(opt.Title) > models.MaxTitleLen {
		return fmt.Errorf("%w: title is limited to %d characters", models.ErrInvalidInput, models.MaxTitleLen)
	}
	if !opt.Kind.Valid() {
		return fmt.Errorf("%w: unknown option kind %q", models.ErrInvalidInput, opt.Kind)
	}
	if opt.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", models.ErrInvalidInput)
	}
	if opt.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", models.ErrInvalidInput)
	}
	if len(opt.CancellationDeadline) > 50 {
		return fmt.Errorf("%w: cancellation deadline is too long", models.ErrInvalidDeadlineConfig)
	}
	return c.policy.Validate(opt.CancellationDeadline)
}
