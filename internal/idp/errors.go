package idp

import "errors"

var (
	ErrAlreadyExists  = errors.New("identity already exists")
	ErrNotFound       = errors.New("identity not found")
	ErrRoleNotFound   = errors.New("realm role not found")
	ErrInvalidRequest = errors.New("identity provider rejected request")
	ErrUnavailable    = errors.New("identity provider unavailable")
)
