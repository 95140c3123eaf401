package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrSourceUnavailable   = errors.New("quote source unavailable")
	ErrMalformedQuote      = errors.New("malformed quote")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrConcurrentUpdate    = errors.New("concurrent update")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrSyncInProgress      = errors.New("sync already in progress")

	ErrOptionNotInMarket = fmt.Errorf("option does not belong to market: %w", ErrNotFound)
	ErrProfileNotFound   = fmt.Errorf("profile: %w", ErrNotFound)
)
