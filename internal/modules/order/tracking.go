// README: Human readable tracking numbers (CRS-YYMMDD-XXXXXX).
package order

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Ambiguous glyphs (0/O, 1/I) are left out so numbers survive being read aloud.
const trackingAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

var trackingPattern = regexp.MustCompile(`^CRS-\d{6}-[2-9A-HJ-NP-Z]{6}$`)

func NewTrackingNumber(at time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("tracking number: %w", err)
	}
	for i, b := range buf {
		buf[i] = trackingAlphabet[int(b)%len(trackingAlphabet)]
	}
	return fmt.Sprintf("CRS-%s-%s", at.UTC().Format("060102"), buf), nil
}

func ValidTrackingNumber(s string) bool {
	return trackingPattern.MatchString(s)
}
