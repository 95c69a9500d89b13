package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IsID reports whether value is a bare or prefixed id produced by NewID.
func IsID(value string) bool {
	if i := strings.LastIndexByte(value, '_'); i >= 0 {
		value = value[i+1:]
	}
	return uuid.Validate(value) == nil
}
