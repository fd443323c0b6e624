package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/types"
)

type consumeBody struct {
	Kind   string `json:"kind" validate:"required,resource_kind"`
	Amount int64  `json:"amount" validate:"gt=0"`
	Period string `json:"period,omitempty" validate:"omitempty,period_key"`
}

type checkoutBody struct {
	Tier string `json:"tier" validate:"required,paid_tier"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name      string
		in        any
		wantCode  types.ErrorCode
		wantField string
	}{
		{name: "valid consume", in: consumeBody{Kind: "ads", Amount: 1}},
		{name: "valid with period", in: consumeBody{Kind: "quotes", Amount: 3, Period: "2026-10"}},
		{name: "missing kind", in: consumeBody{Amount: 1}, wantCode: types.ErrCodeValidationMissingField, wantField: "kind"},
		{name: "unknown kind", in: consumeBody{Kind: "invoices", Amount: 1}, wantCode: types.ErrCodeValidationInvalidKind, wantField: "kind"},
		{name: "zero amount", in: consumeBody{Kind: "ads"}, wantCode: types.ErrCodeValidationInvalidAmount, wantField: "amount"},
		{name: "negative amount", in: consumeBody{Kind: "ads", Amount: -4}, wantCode: types.ErrCodeValidationInvalidAmount, wantField: "amount"},
		{name: "bad period", in: consumeBody{Kind: "ads", Amount: 1, Period: "2026-13"}, wantCode: types.ErrCodeValidationInvalidPeriod, wantField: "period"},
		{name: "valid tier", in: checkoutBody{Tier: "premium"}},
		{name: "free tier is not purchasable", in: checkoutBody{Tier: "free"}, wantCode: types.ErrCodeValidationInvalidTier, wantField: "tier"},
		{name: "unknown tier", in: checkoutBody{Tier: "gold"}, wantCode: types.ErrCodeValidationInvalidTier, wantField: "tier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.in)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantField, appErr.Details["field"])
			assert.Equal(t, 400, appErr.HTTPStatus())
		})
	}
}

func TestValidator_NonStruct(t *testing.T) {
	err := NewValidator(nil).ValidateStruct("not a struct")
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}
