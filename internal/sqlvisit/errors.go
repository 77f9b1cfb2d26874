package sqlvisit

import "errors"

// Sentinel errors surfaced by the frontend and backend visitors, matching the
// Inconsistent*/FormatError error kinds.
var (
	ErrUnboundParameter   = errors.New("sqlvisit: unbound parameter")
	ErrInconsistentParam  = errors.New("sqlvisit: parameter bound to inconsistent values")
	ErrUnknownVariable    = errors.New("sqlvisit: unknown variable")
	ErrFunctionNotAllowed = errors.New("sqlvisit: function not in the determinism whitelist")
	ErrMacroTakesNoArgs   = errors.New("sqlvisit: macro takes no arguments")
)
