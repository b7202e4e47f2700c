package app

import "errors"

// Sentinel errors returned by App methods. Their messages are sent to
// clients verbatim, so keep them user-facing.
var (
	ErrUsernameExists      = errors.New("Username already exists")
	ErrEmailExists         = errors.New("Email already registered")
	ErrPasswordsDoNotMatch = errors.New("Passwords do not match")

	ErrInvalidCredentials       = errors.New("Invalid credentials")
	ErrAccountDeactivated       = errors.New("Account is deactivated")
	ErrInvalidToken             = errors.New("Invalid or expired token")
	ErrCurrentPasswordIncorrect = errors.New("Current password is incorrect")
	ErrPasswordIncorrect        = errors.New("Password is incorrect")
	ErrInvalidResetToken        = errors.New("Invalid or expired reset token")

	ErrUserNotFound = errors.New("User not found")
	ErrChatNotFound = errors.New("Chat not found")
	ErrFileNotFound = errors.New("File not found")

	ErrEmptyTitle   = errors.New("Title cannot be empty")
	ErrEmptyMessage = errors.New("Message content cannot be empty")
)
