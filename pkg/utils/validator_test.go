package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Comments   string  `json:"comments" validate:"required,max=5"`
	DelegateTo int64   `json:"delegate_to" validate:"gt=0"`
	Amount     float64 `json:"amount,omitempty" validate:"gte=0"`
}

func TestValidationMessages(t *testing.T) {
	v := NewValidator()

	err := v.Struct(sample{DelegateTo: 0, Amount: -1})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{
		"comments is required",
		"delegate_to must be greater than 0",
		"amount must be at least 0",
	}, ValidationMessages(err))

	err = v.Struct(sample{Comments: "too long", DelegateTo: 1})
	require.Error(t, err)
	assert.Equal(t, []string{"comments must be at most 5 characters"}, ValidationMessages(err))

	assert.NoError(t, v.Struct(sample{Comments: "ok", DelegateTo: 2}))
	assert.Equal(t, []string{"boom"}, ValidationMessages(errors.New("boom")))
}
