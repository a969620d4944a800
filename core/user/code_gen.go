package user

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/fancysnake/ludamus/core"
)

// MakeCode generates a URL-safe anonymous enrollment code.
func MakeCode() (string, error) {
	buf := make([]byte, core.Conf.AnonymousCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
