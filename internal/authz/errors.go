package authz

import "errors"

var (
	ErrForbidden    = errors.New("authz: forbidden")
	ErrNotFound     = errors.New("authz: not found")
	ErrInvalidInput = errors.New("authz: invalid input")
)
