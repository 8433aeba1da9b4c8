package common

import "errors"

// Store-level sentinel errors shared by every persistence implementation.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrReferenced     = errors.New("record is still referenced")
)
