package numeric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound4(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"exact", 0.6, 0.6},
		{"rounds down", 0.123449, 0.1234},
		{"rounds up", 0.123451, 0.1235},
		{"one third", 1.0 / 3.0, 0.3333},
		{"negative", -0.12346, -0.1235},
		{"zero", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Round4(tc.in), 1e-12)
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(3, 0))
	assert.Equal(t, 33.3, Percent(1, 3))
	assert.Equal(t, 100.0, Percent(4, 4))
}
