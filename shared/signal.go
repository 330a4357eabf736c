package shared

// ConfirmationResult represents the outcome of cascading a turning point requirement
// across a timeframe ladder.
type ConfirmationResult struct {
	Symbol    string
	Direction Direction
	Confirmed bool
	// Evaluated lists the timeframes evaluated, in evaluation order.
	Evaluated []Timeframe
	// FailedAt is the first timeframe that did not confirm, only valid when not confirmed
	// and at least one timeframe was evaluated.
	FailedAt Timeframe
	// Err is the local error that prevented confirmation, if any.
	Err error
}
