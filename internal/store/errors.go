package store

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrProtectedPage      = errors.New("main page cannot be deleted or edited directly")
	ErrMissingContainer   = errors.New("element must belong to exactly one of a workspace or a page")
	ErrCrossWorkspaceLink = errors.New("link target must be a page of the same workspace")
	ErrDuplicateTitle     = errors.New("workspace title already exists")
	ErrDuplicateEmail     = errors.New("email already registered")
)
