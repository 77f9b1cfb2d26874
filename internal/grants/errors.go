package grants

import "errors"

// ErrPrivilegeRequired is returned when an invoker lacks a required grant.
var ErrPrivilegeRequired = errors.New("grants: privilege required")
