package identifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photogram/photogram_api/internal/apperr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
		want string
	}{
		{"user@example.com", KindEmail, "user@example.com"},
		{"User.Name+tag@Mail.Example.org", KindEmail, "user.name+tag@mail.example.org"},
		{"+998911234567", KindPhone, "+998911234567"},
		{"+998331234567", KindPhone, "+998331234567"},
		{"+998711234567", KindPhone, "+998711234567"},
		{"john_doe", KindUsername, "john_doe"},
		{"abcd", KindUsername, "abcd"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			id, err := Classify(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, id.Kind)
			assert.Equal(t, tc.want, id.Value)
		})
	}
}

func TestClassifyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"abc",
		"user@",
		"@example.com",
		"+998961234567",
		"+998901234567",
		"+99890123456",
		"+9989012345678",
		"has space",
		"way_too_long_username_that_exceeds_limit",
	} {
		_, err := Classify(raw)
		if !errors.Is(err, apperr.ErrInvalidIdentifier) {
			t.Fatalf("%q: expected invalid identifier, got %v", raw, err)
		}
	}
}

func TestClassifyNationalPhoneIsNotUsername(t *testing.T) {
	id, err := Classify("+998951112233")
	require.NoError(t, err)
	assert.Equal(t, KindPhone, id.Kind)
}

func TestClassifyContact(t *testing.T) {
	id, err := ClassifyContact("USER@Example.com", "")
	require.NoError(t, err)
	assert.Equal(t, Identifier{Kind: KindEmail, Value: "user@example.com"}, id)

	id, err = ClassifyContact("+998 90 123 45 67", "")
	require.NoError(t, err)
	assert.Equal(t, Identifier{Kind: KindPhone, Value: "+998901234567"}, id)

	id, err = ClassifyContact("+1 650 253 0000", "")
	require.NoError(t, err)
	assert.Equal(t, KindPhone, id.Kind)
	assert.Equal(t, "+16502530000", id.Value)
}

func TestClassifyContactRejectsUsernames(t *testing.T) {
	for _, raw := range []string{"john_doe", "", "12", "+99800"} {
		_, err := ClassifyContact(raw, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidIdentifier, raw)
	}
}
