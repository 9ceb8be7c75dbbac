package placeholder

import (
	"fmt"
	"math"
	mathrand "math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	letters      = lowerLetters + "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
	hexDigits    = "0123456789abcdef"
)

var firstNames = []string{
	"James", "Mary", "John", "Patricia", "Robert", "Jennifer", "Michael", "Linda",
	"William", "Barbara", "David", "Elizabeth", "Richard", "Susan", "Joseph", "Jessica",
	"Thomas", "Sarah", "Charles", "Karen", "Christopher", "Nancy", "Daniel", "Lisa",
	"Matthew", "Betty", "Anthony", "Margaret", "Mark", "Sandra", "Donald", "Ashley",
	"Steven", "Kimberly", "Paul", "Emily", "Andrew", "Donna", "Joshua", "Michelle",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
	"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson",
	"Thomas", "Taylor", "Moore", "Jackson", "Martin", "Lee", "Perez", "Thompson",
	"White", "Harris", "Sanchez", "Clark", "Ramirez", "Lewis", "Robinson", "Walker",
	"Young", "Allen", "King", "Wright", "Scott", "Torres", "Nguyen", "Hill", "Flores",
}

var emailDomains = []string{
	"gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "example.com",
	"test.com", "demo.com", "mail.com", "email.com", "domain.com",
}

func newUUID() string {
	return uuid.NewString()
}

func pick(pool []string) string {
	return pool[mathrand.IntN(len(pool))]
}

func randomBoolean() string {
	if mathrand.IntN(2) == 0 {
		return "false"
	}
	return "true"
}

func randomString(n int, charset string) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(charset[mathrand.IntN(len(charset))])
	}
	return b.String()
}

// maxRandomLength caps the length of generated random strings.
const maxRandomLength = 64 << 10

func randomFromCharset(args []string, defaultLen int, charset string) (string, error) {
	n := defaultLen
	if len(args) > 0 {
		v, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return "", fmt.Errorf("length %q: %w", args[0], err)
		}
		if v < 0 {
			return "", fmt.Errorf("negative length %d", v)
		}
		if v > maxRandomLength {
			return "", fmt.Errorf("length %d exceeds %d", v, maxRandomLength)
		}
		n = v
	}
	return randomString(n, charset), nil
}

// randomIntArgs draws from [0,1000], [0,max] or [min,max] inclusive.
func randomIntArgs(args []string) (string, error) {
	lo, hi := 0, 1000
	switch {
	case len(args) >= 2:
		var err error
		if lo, err = strconv.Atoi(strings.TrimSpace(args[0])); err != nil {
			return "", err
		}
		if hi, err = strconv.Atoi(strings.TrimSpace(args[1])); err != nil {
			return "", err
		}
	case len(args) == 1:
		var err error
		if hi, err = strconv.Atoi(strings.TrimSpace(args[0])); err != nil {
			return "", err
		}
	}
	if lo > hi {
		return "", fmt.Errorf("empty range [%d,%d]", lo, hi)
	}
	// uint64 arithmetic wraps correctly for any int64 bounds.
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return strconv.Itoa(int(mathrand.Uint64())), nil
	}
	return strconv.Itoa(int(uint64(lo) + mathrand.Uint64N(span+1))), nil
}

// randomFloatArgs draws uniformly from [0,100], [0,max] or [min,max], rounded to two decimals.
func randomFloatArgs(args []string) (string, error) {
	lo, hi := 0.0, 100.0
	switch {
	case len(args) >= 2:
		var err error
		if lo, err = strconv.ParseFloat(strings.TrimSpace(args[0]), 64); err != nil {
			return "", err
		}
		if hi, err = strconv.ParseFloat(strings.TrimSpace(args[1]), 64); err != nil {
			return "", err
		}
	case len(args) == 1:
		var err error
		if hi, err = strconv.ParseFloat(strings.TrimSpace(args[0]), 64); err != nil {
			return "", err
		}
	}
	v := lo + mathrand.Float64()*(hi-lo)
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}
