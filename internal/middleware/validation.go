package middleware

import (
	"errors"
	"regexp"

	"github.com/google/uuid"
)

// phonePattern accepts E.164-style numbers: optional +, 7 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// ValidatePhoneNumber validates an outbound phone number.
func ValidatePhoneNumber(number string) error {
	if len(number) == 0 {
		return errors.New("phone number is required")
	}
	if !phonePattern.MatchString(number) {
		return errors.New("invalid phone number format")
	}
	return nil
}

// ValidateSessionID validates a call session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}
