package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, region, want string
	}{
		{"+1 650-253-0000", "RW", "+16502530000"},
		{"0016502530000", "RW", "+16502530000"},
		{"(650) 253-0000", "US", "+16502530000"},
		{"0788 123 456", "RW", "+250788123456"},
	}
	for _, c := range cases {
		got, err := NormalizePhone(c.in, c.region)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "   ", "hello", "+1 000"} {
		_, err := NormalizePhone(bad, "US")
		assert.ErrorIs(t, err, ErrInvalidPhone, bad)
	}
}

func TestNewIDsAreUniqueAndSortable(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a, b := NewAt(at), NewAt(at)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
	assert.Len(t, a, 26)
	assert.True(t, ValidID(a))
	assert.False(t, ValidID("not-a-ulid"))
}
