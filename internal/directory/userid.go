package directory

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	userIDMin  = 100000
	userIDSpan = 900000
)

// randomUserID draws a 6-digit id uniformly from [100000, 999999].
func randomUserID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(userIDSpan))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(userIDMin+n.Int64(), 10), nil
}
