package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "month", want: Month},
		{in: " YEAR ", want: Year},
		{in: "week", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownPlan, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog("price_m", "price_y")

	id, err := c.PriceID("year")
	require.NoError(t, err)
	assert.Equal(t, "price_y", id)

	plan, ok := c.PlanForPrice("price_m")
	assert.True(t, ok)
	assert.Equal(t, Month, plan)

	_, ok = c.PlanForPrice("price_other")
	assert.False(t, ok)

	_, err = NewCatalog("price_m", "").PriceID("year")
	assert.Error(t, err)
}
