package game

import "errors"

// ValidationError is a rejected move. The state it was checked against is never modified.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInvalidTurn        = &ValidationError{Code: "invalid_turn", Message: "not your turn"}
	ErrAlreadyFlipped     = &ValidationError{Code: "already_flipped", Message: "card is already flipped"}
	ErrDuplicateSelection = &ValidationError{Code: "duplicate_selection", Message: "card is already selected in this pair"}
	ErrGameEnded          = &ValidationError{Code: "game_ended", Message: "game has ended"}
	ErrRevealPending      = &ValidationError{Code: "reveal_pending", Message: "previous pair is still being revealed"}
	ErrCardOutOfRange     = &ValidationError{Code: "card_out_of_range", Message: "card index out of range"}
)

// IsValidation reports whether err is a rejected move.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
