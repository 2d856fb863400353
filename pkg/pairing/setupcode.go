package pairing

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// trivialSetupCodes are the digit sequences GenerateSetupCode never returns.
var trivialSetupCodes = map[string]bool{
	"12345678": true,
	"87654321": true,
}

// GenerateSetupCode returns a random eight digit code formatted as
// "XXX-XX-XXX". Codes made of one repeated digit and the ascending and
// descending runs are rejected. A nil r uses crypto/rand.
func GenerateSetupCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	limit := big.NewInt(100000000)
	for {
		n, err := rand.Int(r, limit)
		if err != nil {
			return "", err
		}
		digits := fmt.Sprintf("%08d", n.Int64())
		if trivialSetupCode(digits) {
			continue
		}
		return digits[:3] + "-" + digits[3:5] + "-" + digits[5:], nil
	}
}

func trivialSetupCode(digits string) bool {
	if trivialSetupCodes[digits] {
		return true
	}
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}
