package conflict

import (
	"encoding/json"
	"fmt"
)

// Apply picks the winning data for a conflicting pair under the given
// strategy. It is pure: the caller decides what to do with the winner or with
// a manual-resolution failure.
//
// StrategyAdminDecides and StrategyMerge deliberately return
// ErrManualResolution instead of guessing a side; an automatic merge
// algorithm is an explicitly open product question.
func Apply(serverData, clientData json.RawMessage, strategy Strategy) (json.RawMessage, error) {
	switch strategy {
	case StrategyServerWins:
		return serverData, nil
	case StrategyClientWins:
		return clientData, nil
	case StrategyAdminDecides:
		return nil, fmt.Errorf("%w: %s requires an administrator decision", ErrManualResolution, strategy)
	case StrategyMerge:
		return nil, fmt.Errorf("%w: %s is not implemented", ErrManualResolution, strategy)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
}
