package internal

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxEmailLength follows the RFC 5321 path limit.
const MaxEmailLength = 254

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func emailValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether an already-normalized address is well formed.
func ValidEmail(normalized string) bool {
	if normalized == "" || len(normalized) > MaxEmailLength {
		return false
	}
	return emailValidator().Var(normalized, "required,email,max=254") == nil
}
