package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotSettleable = errors.New("prediction not settleable")
	ErrPartialWrite  = errors.New("partial payout write failure")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrPollFailed    = errors.New("channel status poll failed")
	ErrParse         = errors.New("malformed live event")
	ErrLockHeld      = errors.New("lock already held")
	ErrClosed        = errors.New("prediction closed")
	ErrInvalidOption = errors.New("invalid option")
	ErrInvalidInput  = errors.New("invalid input")
)
