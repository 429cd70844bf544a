package clamm

import "errors"

var (
	ErrInvalidTickRange        = errors.New("invalid tick range")
	ErrZeroLiquidity           = errors.New("zero liquidity")
	ErrInsufficientLiquidity   = errors.New("insufficient liquidity")
	ErrInsufficientInputAmount = errors.New("insufficient input amount")
	ErrSlippageExceeded        = errors.New("slippage exceeded")
	ErrUnsupportedFee          = errors.New("unsupported fee")
	ErrTokensMustBeDifferent   = errors.New("tokens must be different")
	ErrZeroAddress             = errors.New("zero address")
	ErrPoolAlreadyExists       = errors.New("pool already exists")
	ErrPoolNotFound            = errors.New("pool not found")
	ErrInvalidPriceLimit       = errors.New("invalid price limit")
	ErrInvalidAmount           = errors.New("invalid amount")

	ErrLocked                = errors.New("pool is locked")
	ErrNotOwner              = errors.New("caller is not the pool owner")
	ErrInvalidOwnerFee       = errors.New("invalid owner fee share")
	ErrTickLiquidityOverflow = errors.New("tick liquidity exceeds maximum per tick")
	ErrInvalidPath           = errors.New("invalid swap path")
	ErrPoolNotInitialized    = errors.New("pool is not initialized")
)
