package staycache

import "errors"

// Sentinel errors for the staycache domain.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrKeyRevoked   = errors.New("api key revoked")
	ErrConflict     = errors.New("conflict")
	ErrDecrypt      = errors.New("decrypt failed")
	ErrBadRequest   = errors.New("bad request")
)
