package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyTracked = errors.New("position already tracked")
	ErrNotTracked     = errors.New("position not tracked")
	ErrTransient      = errors.New("transient upstream failure")
	ErrPermanent      = errors.New("permanent upstream failure")
	ErrPriceSanity    = errors.New("price below sanity floor")
	ErrNoBaseline     = errors.New("accounting baseline unavailable")
	ErrContextDone    = errors.New("context cancelled")
)
