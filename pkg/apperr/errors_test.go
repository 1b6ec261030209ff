package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(CodeInsufficientCredits)
	assert.Equal(t, CodeInsufficientCredits, err.Code)
	assert.NotEmpty(t, err.Message)
	assert.NotEmpty(t, err.MessageLocalized)
	assert.NotEqual(t, err.Message, err.MessageLocalized)
}

func TestNewUnknownCode(t *testing.T) {
	err := New(Code("SOMETHING_ELSE"))
	assert.Equal(t, "SOMETHING_ELSE", err.Message)
	assert.Equal(t, ClassUnknown, err.Class())
}

func TestErrorString(t *testing.T) {
	err := New(CodeInsufficientCredits).With("required", 5).With("available", 3)
	assert.Equal(t, "INSUFFICIENT_CREDITS: insufficient credits for this feature (available=3, required=5)", err.Error())

	assert.Equal(t, "ORG_NOT_FOUND: organization not found", New(CodeOrgNotFound).Error())
}

func TestNewf(t *testing.T) {
	err := Newf(CodeInvalidFeature, "unknown feature %q", "teleport")
	assert.Equal(t, `unknown feature "teleport"`, err.Message)
	assert.Equal(t, messages[CodeInvalidFeature].ar, err.MessageLocalized)
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeInsufficientCredits).With("available", 3).With("required", 5)

	data, mErr := json.Marshal(err)
	require.NoError(t, mErr)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "INSUFFICIENT_CREDITS", out["code"])
	assert.Equal(t, float64(3), out["available"])
	assert.Equal(t, float64(5), out["required"])
	assert.Contains(t, out, "message")
	assert.Contains(t, out, "messageLocalized")
}

func TestMarshalJSONFieldsCannotOverrideCode(t *testing.T) {
	err := New(CodeForbidden).With("code", "OTHER")

	data, mErr := json.Marshal(err)
	require.NoError(t, mErr)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "FORBIDDEN", out["code"])
}

func TestIsAndCodeOf(t *testing.T) {
	base := New(CodeOrgNotFound)
	wrapped := fmt.Errorf("load org: %w", base)

	assert.True(t, Is(wrapped, CodeOrgNotFound))
	assert.False(t, Is(wrapped, CodePaymentNotFound))
	assert.True(t, errors.Is(wrapped, New(CodeOrgNotFound)))
	assert.False(t, errors.Is(wrapped, New(CodeForbidden)))
	assert.Equal(t, CodeOrgNotFound, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		code Code
		want Class
	}{
		{CodeInvalidFeature, ClassValidation},
		{CodeInvalidAmount, ClassValidation},
		{CodeOrgNotFound, ClassNotFound},
		{CodeConsumptionNotFound, ClassNotFound},
		{CodeInsufficientCredits, ClassConflict},
		{CodeSubscriptionGracePeriod, ClassConflict},
		{CodeConsumptionAlreadyFinalized, ClassConflict},
		{CodeForbidden, ClassAuthorization},
		{CodeConsumptionNotOwned, ClassAuthorization},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.code))
		})
	}
}

func TestEveryCodeHasMessages(t *testing.T) {
	for code, msg := range messages {
		assert.NotEmpty(t, msg.en, code)
		assert.NotEmpty(t, msg.ar, code)
		assert.NotEqual(t, ClassUnknown, ClassOf(code), code)
	}
}
