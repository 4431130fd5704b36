package contact

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhone(t *testing.T) {
	valid := map[string]string{
		"bare national":      "11987654321",
		"formatted":          "(11) 98765-4321",
		"with country code":  "+55 11 98765-4321",
		"surrounding spaces": "  11987654321 ",
	}
	for name, raw := range valid {
		t.Run(name, func(t *testing.T) {
			got, err := ValidatePhone(raw)
			require.NoError(t, err)
			assert.Equal(t, "+5511987654321", got)
		})
	}

	invalid := map[string]string{
		"123":            "phone too short",
		"":               "phone too short",
		"   ":            "phone too short",
		"99999999":       "invalid Brazilian phone number",
		"+999 123456789": "unparseable phone number",
	}
	for raw, reason := range invalid {
		t.Run("rejects "+raw, func(t *testing.T) {
			_, err := ValidatePhone(raw)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "phone", verr.Field)
			assert.Equal(t, reason, verr.Reason)
		})
	}
}

func TestValidateEmail(t *testing.T) {
	cases := []struct {
		email string
		want  bool
	}{
		{"a@b.com", true},
		{"Maria.Silva+crm@Example.com.br", true},
		{"1199999999333@gmail.com", false},
		{"1111111111@gmail.com", false},
		{"000000@x.com", false},
		{"a123456789@x.com", false},
		{"a@b", false},
		{"ab.c", false},
		{"a@.c", false},
		{"not an@email.com", false},
		{strings.Repeat("a", 250) + "@b.com", false},
	}
	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateEmail(tc.email))
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("both valid", func(t *testing.T) {
		got, errs := Normalize(Input{RawPhone: "11987654321", RawEmail: " A@B.com "})
		assert.Empty(t, errs)
		assert.Equal(t, Contacts{Phone: "+5511987654321", Email: "a@b.com"}, got)
		assert.False(t, got.IsEmpty())
	})

	t.Run("invalid values become absent", func(t *testing.T) {
		got, errs := Normalize(Input{RawPhone: "123", RawEmail: "1199999999333@gmail.com"})
		assert.True(t, got.IsEmpty())
		assert.Len(t, errs, 2)
	})

	t.Run("blank inputs are absent without errors", func(t *testing.T) {
		got, errs := Normalize(Input{})
		assert.True(t, got.IsEmpty())
		assert.Empty(t, errs)
	})
}
