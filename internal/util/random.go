package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"unicode"
)

// HumanCodeAlphabet leaves out 0, 1, i, l and o.
const HumanCodeAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"

const humanCodeLength = 9

// RandomHumanCode returns a code like "7KX-M2Q-RTB".
func RandomHumanCode() string {
	max := big.NewInt(int64(len(HumanCodeAlphabet)))
	buf := make([]byte, humanCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = HumanCodeAlphabet[n.Int64()]
	}
	code := strings.ToUpper(string(buf))
	return code[0:3] + "-" + code[3:6] + "-" + code[6:9]
}

// CanonicalCode lowercases a submitted code and drops everything that is
// not a letter or digit, so "7kx m2q.rtb" and "7KX-M2Q-RTB" compare equal.
func CanonicalCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, strings.ToLower(code))
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RandomBase64 returns n random bytes base64url encoded without padding.
func RandomBase64(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
