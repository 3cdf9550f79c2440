// Package callbacks defines the inline-button actions this bot understands.
//
// Callback data is plain "<action>|<arg>" text. Parse turns it into one of a
// closed set of Action values; anything else is rejected up front so handlers
// never see a half-parsed payload.
package callbacks

import (
	"errors"
	"fmt"
	"strings"
)

// Action names as they appear on the wire.
const (
	NameDeactivate        = "deactivate"
	NameConfirmDeactivate = "confirm_deactivate"
	NameCancelDeactivate  = "cancel_deactivate"
)

// Sep separates the action name from its argument.
const Sep = "|"

// MaxDataLen is Telegram's limit for callback_data in bytes.
const MaxDataLen = 64

var (
	// ErrUnknownAction is returned for an action name outside the closed set.
	ErrUnknownAction = errors.New("callbacks: unknown action")
	// ErrMissingArgument is returned when an action needs an argument and got none.
	ErrMissingArgument = errors.New("callbacks: missing argument")
)

// Action is implemented only by the types in this package.
type Action interface {
	// Name is the wire action name, also used as the handler label in logs.
	Name() string
	// Data renders the callback_data string for a button.
	Data() string
	sealed()
}

// Deactivate asks for confirmation before deactivating Email.
type Deactivate struct{ Email string }

// ConfirmDeactivate performs the deactivation of Email.
type ConfirmDeactivate struct{ Email string }

// CancelDeactivate dismisses a pending confirmation.
type CancelDeactivate struct{}

func (Deactivate) Name() string        { return NameDeactivate }
func (ConfirmDeactivate) Name() string { return NameConfirmDeactivate }
func (CancelDeactivate) Name() string  { return NameCancelDeactivate }

func (a Deactivate) Data() string        { return NameDeactivate + Sep + a.Email }
func (a ConfirmDeactivate) Data() string { return NameConfirmDeactivate + Sep + a.Email }
func (CancelDeactivate) Data() string    { return NameCancelDeactivate }

func (Deactivate) sealed()        {}
func (ConfirmDeactivate) sealed() {}
func (CancelDeactivate) sealed()  {}

// Split returns the action name and the remaining argument, if any.
func Split(data string) (string, string) {
	name, arg, _ := strings.Cut(data, Sep)
	return strings.TrimSpace(name), strings.TrimSpace(arg)
}

// Parse decodes callback data into an Action.
func Parse(data string) (Action, error) {
	name, arg := Split(data)
	switch name {
	case NameDeactivate:
		if arg == "" {
			return nil, fmt.Errorf("%s: %w", name, ErrMissingArgument)
		}
		return Deactivate{Email: arg}, nil
	case NameConfirmDeactivate:
		if arg == "" {
			return nil, fmt.Errorf("%s: %w", name, ErrMissingArgument)
		}
		return ConfirmDeactivate{Email: arg}, nil
	case NameCancelDeactivate:
		return CancelDeactivate{}, nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownAction)
}
