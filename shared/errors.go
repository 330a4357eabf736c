package shared

import "errors"

var (
	// ErrInsufficientData is returned when a series is too short to be evaluated.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrFeedUnavailable is returned when price data could not be fetched.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrOrderRejected is returned when the trading gateway rejects a command.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderUnconfirmed is returned when a command may have reached the exchange but its
	// outcome is unknown.
	ErrOrderUnconfirmed = errors.New("order unconfirmed")
	// ErrAuthFailure is returned when the trading gateway rejects the credentials used.
	ErrAuthFailure = errors.New("auth failure")
	// ErrEpisodeActive is returned when a symbol already has an active episode.
	ErrEpisodeActive = errors.New("episode already active")
)
