package model

import "errors"

var (
	ErrValidation             = errors.New("validation error")
	ErrDuplicateActive        = errors.New("plate already has an active session")
	ErrMissingNegotiatedPrice = errors.New("negotiated category requires size and agreed price")
	ErrNotFound               = errors.New("not found")
	ErrInvalidDuration        = errors.New("exit timestamp precedes entry timestamp")
	ErrPersistence            = errors.New("persistence failure")
	ErrForbidden              = errors.New("forbidden")
)
