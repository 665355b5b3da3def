package account

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/photogram/photogram_api/internal/apperr"
	"github.com/photogram/photogram_api/internal/identifier"
)

var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".heif": true, ".webp": true, ".svg": true,
}

func notNumeric(value interface{}) error {
	s, _ := value.(string)
	if s != "" && is.Digit.Validate(s) == nil {
		return errors.New("must not be entirely numeric")
	}
	return nil
}

func capitalised(value interface{}) error {
	s, _ := value.(string)
	r, _ := utf8.DecodeRuneInString(s)
	if s != "" && !unicode.IsUpper(r) {
		return errors.New("must start with a capital letter")
	}
	return nil
}

func usernameShape(value interface{}) error {
	s, _ := value.(string)
	if s != "" && !identifier.MatchesUsername(s) {
		return errors.New("may contain only letters, digits and underscores")
	}
	return nil
}

func sameAs(password string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != password {
			return errors.New("passwords do not match")
		}
		return nil
	}
}

var passwordRules = []validation.Rule{validation.Required, validation.Length(8, 128), validation.By(notNumeric)}

// Validate applies the profile completion rules.
func (p ProfileInput) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.Required, validation.Length(5, 31), validation.By(notNumeric), validation.By(capitalised)),
		validation.Field(&p.LastName, validation.Required, validation.Length(5, 31), validation.By(notNumeric), validation.By(capitalised)),
		validation.Field(&p.Username, validation.Required, validation.Length(5, 31), validation.By(usernameShape), validation.By(notNumeric)),
		validation.Field(&p.Password, passwordRules...),
		validation.Field(&p.ConfirmPassword, validation.Required, validation.By(sameAs(p.Password))),
	)
	return asValidation(err)
}

// Validate applies the password reset rules. The identifier itself is
// checked by the identity resolver.
func (r ResetInput) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.EmailOrPhone, validation.Required),
		validation.Field(&r.Code, validation.Required, is.Digit),
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(sameAs(r.Password))),
	)
	return asValidation(err)
}

func validatePhoto(p Photo) (string, error) {
	ext := strings.ToLower(filepath.Ext(p.Filename))
	if !photoExtensions[ext] {
		return "", apperr.Validation("photo must be one of jpg, jpeg, png, heic, heif, webp, svg", nil)
	}
	if p.Body == nil {
		return "", apperr.Validation("photo is required", nil)
	}
	return ext, nil
}

func asValidation(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Validation(err.Error(), err)
}
