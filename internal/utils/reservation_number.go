package utils

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/shooter51/divestreams-server/internal/model"
)

// numberAlphabet deliberately omits 0/O and 1/I so reservation numbers
// survive being read over the phone at the dive counter.
const numberAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewReservationNumber returns a human-facing reservation number of the
// form RSV-20260831-7KQ2MX (ENR- prefix for enrollments): a calendar-date
// prefix plus six random characters.  Uniqueness is enforced per
// organization by the storage layer; admission retries with a fresh
// suffix on the rare collision.
func NewReservationNumber(kind string, now time.Time) (string, error) {
	prefix := "RSV"
	if kind == model.KindEnrollment {
		prefix = "ENR"
	}
	suffix, err := randomSuffix(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), suffix), nil
}

// randomSuffix returns n characters of cryptographically secure random
// data drawn from numberAlphabet.
func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return string(out), nil
}
