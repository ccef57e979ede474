package vault

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate runs struct-tag validation on v and wraps failures in
// ErrValidation with the offending fields listed.
func Validate(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
}

// ValidateMessage checks field rules plus the media attachment requirement.
func ValidateMessage(m *Message) error {
	if err := Validate(m); err != nil {
		return err
	}
	if (m.MessageType == MessageVoice || m.MessageType == MessageVideo) && len(m.Attachments) == 0 {
		return fmt.Errorf("%w: %s message needs a media attachment", ErrValidation, m.MessageType)
	}
	return nil
}

// ValidateRecipient normalises the phone number before validating.
func ValidateRecipient(r *Recipient) error {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.Phone = NormalizePhoneNumber(r.Phone)
	return Validate(r)
}

// ValidateCondition checks tags and cross-field consistency.
func ValidateCondition(c *MessageCondition) error {
	if err := Validate(c); err != nil {
		return err
	}
	return c.CheckConsistency()
}
