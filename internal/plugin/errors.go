package plugin

import "errors"

// Registry errors.
var (
	// ErrPluginNotFound is returned when no stored source exists for a name,
	// or the stored source cannot be loaded into a working plugin.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrValidationFailed is returned when stored source fails the static
	// gate at load time. Loading rechecks validation independently of the
	// acquisition path, since blobs could have been placed out-of-band.
	ErrValidationFailed = errors.New("plugin source failed validation")

	// ErrMissingSymbols is returned when an executed chunk does not bind the
	// required patterns table and parse function as globals.
	ErrMissingSymbols = errors.New("plugin missing required globals")
)
