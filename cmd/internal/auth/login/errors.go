package login

import "errors"

var (
	// ErrInvalidCredentials covers unknown principals and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)
