// Package identifier classifies the raw strings users type into login and
// signup forms.
package identifier

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/photogram/photogram_api/internal/apperr"
)

// Kind is the class of a user supplied identifier.
type Kind string

const (
	KindEmail    Kind = "email"
	KindPhone    Kind = "phone"
	KindUsername Kind = "username"
)

var (
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,7}$`)
	phonePattern    = regexp.MustCompile(`^\+998(9[1-5]|33|50|77|71)\d{7}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{4,32}$`)
)

// Identifier is a classified, normalised identifier.
type Identifier struct {
	Kind  Kind
	Value string
}

// Classify matches raw against the email, national phone and username
// patterns, in that order.
func Classify(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case emailPattern.MatchString(raw):
		return Identifier{Kind: KindEmail, Value: strings.ToLower(raw)}, nil
	case phonePattern.MatchString(raw):
		return Identifier{Kind: KindPhone, Value: raw}, nil
	case usernamePattern.MatchString(raw):
		return Identifier{Kind: KindUsername, Value: raw}, nil
	}
	return Identifier{}, apperr.ErrInvalidIdentifier
}

// ClassifyContact accepts only deliverable channels. Phones are checked for
// real telephony validity and returned in E.164; region is used for numbers
// written without a country prefix and may be empty.
func ClassifyContact(raw, region string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, apperr.ErrInvalidIdentifier.WithMessage("you must send an email or phone number")
	}
	if emailPattern.MatchString(raw) {
		return Identifier{Kind: KindEmail, Value: strings.ToLower(raw)}, nil
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return Identifier{}, apperr.ErrInvalidIdentifier.WithMessage("email or phone number invalid")
	}
	return Identifier{Kind: KindPhone, Value: phonenumbers.Format(num, phonenumbers.E164)}, nil
}

// MatchesUsername reports whether s is shaped like a username.
func MatchesUsername(s string) bool {
	return usernamePattern.MatchString(s)
}
