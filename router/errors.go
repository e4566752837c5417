// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import "errors"

var (
	ErrInvalidExecutionFee  = errors.New("invalid execution fee")
	ErrInvalidMsgValue      = errors.New("invalid msg.value")
	ErrInvalidPathLength    = errors.New("invalid path length")
	ErrInvalidPath          = errors.New("invalid path")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidReceiver      = errors.New("invalid receiver")
	ErrInvalidPriceLimit    = errors.New("invalid acceptable price")
	ErrForbidden            = errors.New("forbidden")
	ErrMinDelayNotPassed    = errors.New("min delay not yet passed")
	ErrRequestExpired       = errors.New("request has expired")
	ErrPriceLowerThanLimit  = errors.New("price lower than limit")
	ErrPriceHigherThanLimit = errors.New("price higher than limit")
	ErrInvalidConfig        = errors.New("invalid router config")
	ErrIndexOutOfRange      = errors.New("request index out of range")
)
