package shared

import (
	"crypto/rand"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	pinAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pinLength   = 4

	TimestampLayout = "2006-01-02T15:04:05.000000"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
)

// Generator produces scan identifiers. The zero value uses the wall clock
// and crypto/rand.
type Generator struct {
	Now     func() time.Time
	Entropy io.Reader
}

// NewScanIdentifiers is shorthand for a zero Generator.
func NewScanIdentifiers() ScanIdentifiers {
	return Generator{}.Generate()
}

func (g Generator) Generate() ScanIdentifiers {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	entropy := g.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}

	ts := now().Local()
	return ScanIdentifiers{
		ScanID:    newScanID(),
		AccessPin: newAccessPin(entropy),
		Timestamp: ts.Format(TimestampLayout),
		ScanDate:  ts.Format(DateLayout),
		ScanTime:  ts.Format(TimeLayout),
	}
}

func newScanID() string {
	return uuid.NewString()
}

// newAccessPin samples uniformly from pinAlphabet. A broken entropy source
// falls back to uuid randomness instead of failing.
func newAccessPin(entropy io.Reader) string {
	max := big.NewInt(int64(len(pinAlphabet)))
	pin := make([]byte, pinLength)
	for i := range pin {
		n, err := rand.Int(entropy, max)
		if err != nil {
			id := uuid.New()
			pin[i] = pinAlphabet[int(id[0])%len(pinAlphabet)]
			continue
		}
		pin[i] = pinAlphabet[n.Int64()]
	}
	return string(pin)
}

// ValidPin reports whether s has the access pin shape.
func ValidPin(s string) bool {
	if len(s) != pinLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ShortID is the scan id prefix used in local filenames.
func ShortID(scanID string) string {
	if scanID == "" {
		return "unknown"
	}
	return firstN(scanID, 8)
}
