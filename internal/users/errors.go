package users

import "errors"

var (
	ErrUserExists         = errors.New("username or email already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrRegistrationFailed = errors.New("registration failed")
)
