package roomcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		code, err := Generate()
		require.NoError(t, err)
		require.True(t, Valid(code), "generated %q", code)
		assert.Equal(t, code, mustNormalize(t, code))
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"upper", "AB12CD", "AB12CD", false},
		{"lower", "ab12cd", "AB12CD", false},
		{"display form", "ab1-2cd", "AB12CD", false},
		{"grouped", "AB1-2CD", "AB12CD", false},
		{"padded", "  xyz789 ", "XYZ789", false},
		{"too short", "AB12C", "", true},
		{"too long", "AB12CDE", "", true},
		{"symbol", "AB12C!", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "AB1-2CD", Format("AB12CD"))
	assert.Equal(t, "ABC", Format("ABC"))
}

func mustNormalize(t *testing.T, code string) string {
	t.Helper()
	got, err := Normalize(code)
	require.NoError(t, err)
	return got
}
