package executive

import "errors"

// Sentinel errors matching the error taxonomy: the grants/verifier/dispatch
// code wraps these with fmt.Errorf("%w: ...") so callers can errors.Is
// against a stable kind while still getting a human-readable message.
var (
	ErrPrivilegeRequired       = errors.New("executive: privilege required")
	ErrRequiresDatabaseContext = errors.New("executive: statement requires a database context")
	ErrExecutionFailed         = errors.New("executive: execution failed")
	ErrTableDoesNotExist       = errors.New("executive: table does not exist")
	ErrTableAlreadyExists      = errors.New("executive: table already exists")
	ErrColumnDoesNotExist      = errors.New("executive: column does not exist")
	ErrDatabaseDoesNotExist    = errors.New("executive: database does not exist")
	ErrDatabaseAlreadyExists   = errors.New("executive: database already exists")
	ErrDatabaseNotEmpty        = errors.New("executive: database not empty")
	ErrInconsistentColumns     = errors.New("executive: duplicate column in statement")
	ErrUnresolvedPlaceholder   = errors.New("executive: statement still has an unresolved variable or parameter")
)
