package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

const cacheKey = "settings:dunning:active"

// Resolver supplies the dunning settings in force for one operation.
type Resolver struct {
	repo   Repository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver builds a Resolver. client may be nil to disable caching.
func NewResolver(repo Repository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, client: client, ttl: ttl, logger: logger}
}

// Current returns the active settings, or Defaults when no record exists.
func (r *Resolver) Current(ctx context.Context) (DunningSettings, error) {
	if cached, ok := r.fromCache(ctx); ok {
		return cached, nil
	}
	s, err := r.repo.Active(ctx)
	if errors.Is(err, ErrNoActiveSettings) {
		s = Defaults()
	} else if err != nil {
		return DunningSettings{}, err
	}
	r.store(ctx, s)
	return s, nil
}

// Save validates and persists a new active settings record.
func (r *Resolver) Save(ctx context.Context, s DunningSettings) (DunningSettings, error) {
	if err := validate(s); err != nil {
		return DunningSettings{}, err
	}
	saved, err := r.repo.Save(ctx, s)
	if err != nil {
		return DunningSettings{}, err
	}
	if r.client != nil {
		if err := r.client.Del(ctx, cacheKey).Err(); err != nil {
			r.logger.Warn("invalidate settings cache", slog.Any("error", err))
		}
	}
	return saved, nil
}

func validate(s DunningSettings) error {
	for i := 0; i < MaxStage; i++ {
		if s.Fees[i].IsNegative() {
			return shared.Validationf("fee for stage %d must not be negative", i+1)
		}
		if s.TermDays[i] < 0 {
			return shared.Validationf("payment term for stage %d must not be negative", i+1)
		}
	}
	if s.InterestRate.IsNegative() || s.InterestRate.GreaterThan(decimal.NewFromInt(100)) {
		return shared.Validationf("interest rate must be between 0 and 100")
	}
	return nil
}

func (r *Resolver) fromCache(ctx context.Context) (DunningSettings, bool) {
	if r.client == nil {
		return DunningSettings{}, false
	}
	raw, err := r.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("read settings cache", slog.Any("error", err))
		}
		return DunningSettings{}, false
	}
	var s DunningSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return DunningSettings{}, false
	}
	return s, true
}

func (r *Resolver) store(ctx context.Context, s DunningSettings) {
	if r.client == nil || r.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, cacheKey, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("write settings cache", slog.Any("error", err))
	}
}
