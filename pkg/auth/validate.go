package auth

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	ErrUsernameTooShort = errors.New("Username must be at least 3 characters long")
	ErrUsernameTooLong  = errors.New("Username must be no more than 50 characters long")
	ErrUsernameCharset  = errors.New("Username can only contain letters, numbers, and underscores")
	ErrInvalidEmail     = errors.New("Invalid email format")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateUsername enforces the username format rules.
func ValidateUsername(username string) error {
	if len(username) < 3 {
		return ErrUsernameTooShort
	}
	if len(username) > 50 {
		return ErrUsernameTooLong
	}
	if !usernamePattern.MatchString(username) {
		return ErrUsernameCharset
	}
	return nil
}

// ValidEmail reports whether the value is a plausible email address.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || strings.ContainsAny(email, " \t") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject display-name forms; only the bare address is acceptable input.
	if addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}
