package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"short uuid unchanged", "2a19", "2a19"},
		{"uppercase lowered", "2A19", "2a19"},
		{"0x prefix stripped", "0x2902", "2902"},
		{"dashes stripped", "ef090080-11d6-42ba-93b8-9dd7ec090aa9", "ef09008011d642ba93b89dd7ec090aa9"},
		{"sig base reduced to short form", "00002a19-0000-1000-8000-00805f9b34fb", "2a19"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	normalized, err := ValidateUUID("2A19", "EF090080-11D6-42BA-93B8-9DD7EC090AA9")
	require.NoError(t, err)
	assert.Equal(t, []string{"2a19", "ef09008011d642ba93b89dd7ec090aa9"}, normalized)

	_, err = ValidateUUID()
	assert.Error(t, err)

	_, err = ValidateUUID("")
	assert.Error(t, err)

	_, err = ValidateUUID("not-a-uuid")
	assert.Error(t, err)
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "2a19", ShortenUUID("2a19"))
	assert.Equal(t, "ef090080", ShortenUUID("ef09008011d642ba93b89dd7ec090aa9"))
}

func TestConnectionError_Is(t *testing.T) {
	err := NormalizeError(assert.AnError)
	assert.Equal(t, assert.AnError, err)

	wrapped := NormalizeError(&ConnectionError{State: NotConnected, Msg: "device not connected"})
	assert.ErrorIs(t, wrapped, ErrNotConnected)
	assert.NotErrorIs(t, wrapped, ErrAlreadyConnected)
}
