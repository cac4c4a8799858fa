package shared

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanIDsAreUnique(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		ids := NewScanIdentifiers()
		_, dup := seen[ids.ScanID]
		require.False(t, dup, "duplicate scan id %s after %d generations", ids.ScanID, i)
		seen[ids.ScanID] = struct{}{}
	}
}

func TestScanIDIsCanonicalV4(t *testing.T) {
	ids := NewScanIdentifiers()
	parsed, err := uuid.Parse(ids.ScanID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.Equal(t, parsed.String(), ids.ScanID)
	assert.Len(t, ids.ScanID, 36)
}

func TestAccessPinShape(t *testing.T) {
	for i := 0; i < 2000; i++ {
		pin := NewScanIdentifiers().AccessPin
		require.Len(t, pin, 4)
		require.True(t, ValidPin(pin), "bad pin %q", pin)
	}
}

func TestAccessPinSurvivesBrokenEntropy(t *testing.T) {
	g := Generator{Entropy: bytes.NewReader(nil)}
	pin := g.Generate().AccessPin
	assert.True(t, ValidPin(pin), "bad pin %q", pin)
}

func TestTimestampFieldsShareInstant(t *testing.T) {
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 123456000, time.Local)
	ids := Generator{Now: func() time.Time { return fixed }}.Generate()

	assert.Equal(t, "2024-03-09T14:05:07.123456", ids.Timestamp)
	assert.Equal(t, "2024-03-09", ids.ScanDate)
	assert.Equal(t, "14:05:07", ids.ScanTime)
}

func TestValidPin(t *testing.T) {
	assert.True(t, ValidPin("A1Z9"))
	assert.False(t, ValidPin("a1z9"))
	assert.False(t, ValidPin("A1Z"))
	assert.False(t, ValidPin("A1Z9X"))
	assert.False(t, ValidPin("A-Z9"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0f8fad5b", ShortID("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "unknown", ShortID(""))
}
