package mcc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/SheetWithoutShit/sws-collector/internal/cache"
	"github.com/SheetWithoutShit/sws-collector/internal/storage"
)

// UnknownCode is the sentinel stored for merchants whose code is not in the
// known set.
const UnknownCode = -1

// OtherCategory is returned when a code has no configured category.
const OtherCategory = "Other"

const (
	codesCacheKey    = "mcc-codes"
	categoryCacheKey = "mcc-category:%d"
	categoryCacheTTL = time.Hour
)

// Store is the subset of storage queries the validator depends on.
type Store interface {
	MCCCodes(ctx context.Context) ([]int, error)
	MCCCategoryName(ctx context.Context, code int) (string, error)
}

// Validator answers whether a merchant category code is known and what
// category it belongs to, cache-first with store fallback.
type Validator struct {
	cache cache.Cache
	store Store
	log   zerolog.Logger
}

// NewValidator wires the validator with its cache and store collaborators.
func NewValidator(c cache.Cache, store Store, log zerolog.Logger) *Validator {
	return &Validator{cache: c, store: store, log: log}
}

// Validate reports whether code belongs to the known set. A failing store
// degrades to "unknown" so ingestion is never blocked; the caller substitutes
// the sentinel code instead.
func (v *Validator) Validate(ctx context.Context, code int) bool {
	codes, err := v.knownCodes(ctx)
	if err != nil {
		v.log.Error().Err(err).Int("mcc", code).Msg("could not load known mcc codes")
		return false
	}
	for _, known := range codes {
		if known == code {
			return true
		}
	}
	return false
}

// CategoryName resolves the category for code. A code with no category maps to
// OtherCategory; only a failing store propagates an error, which callers
// replace with a placeholder rather than aborting notification composition.
func (v *Validator) CategoryName(ctx context.Context, code int) (string, error) {
	key := fmt.Sprintf(categoryCacheKey, code)
	if name, err := v.cache.Get(ctx, key); err == nil {
		return name, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		v.log.Warn().Err(err).Int("mcc", code).Msg("mcc category cache read failed")
	}

	name, err := v.store.MCCCategoryName(ctx, code)
	if errors.Is(err, storage.ErrCategoryNotFound) {
		return OtherCategory, nil
	}
	if err != nil {
		return "", err
	}

	if err := v.cache.Set(ctx, key, name, categoryCacheTTL); err != nil {
		v.log.Warn().Err(err).Int("mcc", code).Msg("mcc category cache write failed")
	}
	return name, nil
}

// Refresh reloads the known-codes set from the store and overwrites the
// cached copy. It runs at startup and on the hourly schedule.
func (v *Validator) Refresh(ctx context.Context) error {
	codes, err := v.store.MCCCodes(ctx)
	if err != nil {
		return err
	}
	return v.cacheCodes(ctx, codes)
}

func (v *Validator) knownCodes(ctx context.Context) ([]int, error) {
	raw, err := v.cache.Get(ctx, codesCacheKey)
	if err == nil {
		var codes []int
		if jsonErr := json.Unmarshal([]byte(raw), &codes); jsonErr == nil {
			return codes, nil
		}
		v.log.Warn().Str("key", codesCacheKey).Msg("corrupt mcc codes cache entry")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		v.log.Warn().Err(err).Msg("mcc codes cache read failed")
	}

	codes, err := v.store.MCCCodes(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.cacheCodes(ctx, codes); err != nil {
		v.log.Warn().Err(err).Msg("mcc codes cache write failed")
	}
	return codes, nil
}

func (v *Validator) cacheCodes(ctx context.Context, codes []int) error {
	data, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	// The known-codes set has no expiry; it changes only with deployments.
	return v.cache.Set(ctx, codesCacheKey, string(data), 0)
}
