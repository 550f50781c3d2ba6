package state

import "errors"

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrDuplicateName    = errors.New("an instance with this name already exists")
	ErrDuplicateID      = errors.New("instance id already exists")
)
