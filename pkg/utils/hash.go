package utils

import (
	"crypto/sha1"
	"fmt"
)

func HashString(input string) string {
	hash := sha1.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}
