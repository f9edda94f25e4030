package router

import "errors"

var (
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrInvalidFormat   = errors.New("invalid query format")
	ErrUnknownTable    = errors.New("no matching query found")
	ErrQueryNotFound   = errors.New("query not found")
	ErrCatalogSize     = errors.New("catalog must hold exactly five queries")
	ErrDuplicateTable  = errors.New("catalog table listed twice")
	ErrDuplicateID     = errors.New("catalog query ID listed twice")
	ErrReservedID      = errors.New("catalog query uses the reserved ID 0")
	ErrUnparsableQuery = errors.New("catalog query text is not a select statement")
	ErrUnknownPolicy   = errors.New("fallback policy must be strict or generic")
)
