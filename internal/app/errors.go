package app

import (
	"errors"
	"fmt"
	"net/http"

	"mindnote/api/internal/auth"
	"mindnote/api/internal/authpw"
	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/session"
	"mindnote/api/internal/store"
	"mindnote/api/internal/treesync"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var unknownType *element.UnknownElementTypeError
	if errors.As(err, &unknownType) {
		return http.StatusUnprocessableEntity, "UNKNOWN_ELEMENT_TYPE", unknownType.Error(), nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrProtectedPage):
		return http.StatusConflict, "PROTECTED_PAGE", store.ErrProtectedPage.Error(), nil
	case errors.Is(err, store.ErrDuplicateTitle):
		return http.StatusConflict, "DUPLICATE_TITLE", "Workspace title already exists", nil
	case errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, store.ErrMissingContainer):
		return http.StatusUnprocessableEntity, "MISSING_CONTAINER", store.ErrMissingContainer.Error(), nil
	case errors.Is(err, store.ErrCrossWorkspaceLink),
		errors.Is(err, document.ErrInvalidDocument),
		errors.Is(err, treesync.ErrInvalidResolution),
		errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", err.Error()
}
