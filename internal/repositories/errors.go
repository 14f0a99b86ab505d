package repositories

import "errors"

var (
	ErrCardNotFound       = errors.New("virtual card not found")
	ErrIntentNotFound     = errors.New("funding intent not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateReference = errors.New("reference already exists")
	ErrIntentTerminal     = errors.New("funding intent already terminal")
)
