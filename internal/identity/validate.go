package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinUsernameLength is the shortest username accepted.
const MinUsernameLength = 3

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

type usernameInput struct {
	Username string `validate:"required,min=3,username"`
}

// NormalizeUsername trims candidate and checks its shape. The returned error
// wraps ErrValidation.
func NormalizeUsername(candidate string) (string, error) {
	username := strings.TrimSpace(candidate)
	if err := validate.Struct(usernameInput{Username: username}); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return "", fmt.Errorf("%w: %s", ErrValidation, fieldError(ve[0]))
		}
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return username, nil
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "username is required"
	case "min":
		return fmt.Sprintf("username must be at least %d characters", MinUsernameLength)
	case "username":
		return "username can only contain letters, numbers, and underscores"
	default:
		return fmt.Sprintf("username failed validation (%s)", fe.Tag())
	}
}
