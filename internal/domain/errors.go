package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrDuplicate     = errors.New("already registered")

	// Fill and order errors are all invalid input, so callers can match either.
	ErrNeutralSignal        = fmt.Errorf("%w: neutral signal has no side", ErrInvalidInput)
	ErrNoPosition           = fmt.Errorf("%w: no position to sell", ErrInvalidInput)
	ErrInsufficientQuantity = fmt.Errorf("%w: quantity exceeds held position", ErrInvalidInput)
)
