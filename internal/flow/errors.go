package flow

import "errors"

var (
	// ErrOutOfStep is returned when a trigger arrives in a step that does
	// not accept it. Nothing is changed.
	ErrOutOfStep = errors.New("trigger not accepted in current step")

	// ErrNoSession is returned when the operation needs a session that does
	// not exist.
	ErrNoSession = errors.New("session not found")

	ErrUnknownDirection = errors.New("unknown direction")
	ErrUnknownName      = errors.New("name not in active direction")

	// ErrNotDisplayed is returned by Confirm for a name other than the
	// candidate currently displayed.
	ErrNotDisplayed = errors.New("name is not the displayed candidate")

	ErrInvalidInput = errors.New("invalid input")
	ErrNoFavorite   = errors.New("favorite not found")
	ErrClosed       = errors.New("flow controller closed")
)
