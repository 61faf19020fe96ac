package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/nkiryanov/stravadash/internal/service/operator"
)

const SecretKeyBytesLen = 32

// Prints .env lines with fresh OAuth state secret and operator key with its hash
// Keep OPERATOR_KEY to yourself, the server needs only OPERATOR_KEY_HASH
func main() {
	if err := generate(os.Stdout, rand.Reader); err != nil {
		fmt.Printf("error while generating secrets: %v\n", err)
		os.Exit(1)
	}
}

func generate(w io.Writer, random io.Reader) error {
	secretKey, err := randomHex(random)
	if err != nil {
		return err
	}
	operatorKey, err := randomHex(random)
	if err != nil {
		return err
	}

	hash, err := operator.BcryptHasher{}.Hash(operatorKey)
	if err != nil {
		return fmt.Errorf("error while hashing operator key: %w", err)
	}

	_, err = fmt.Fprintf(w, "SECRET_KEY=%s\nOPERATOR_KEY=%s\nOPERATOR_KEY_HASH='%s'\n", secretKey, operatorKey, hash)
	return err
}

func randomHex(random io.Reader) (string, error) {
	b := make([]byte, SecretKeyBytesLen)
	if _, err := io.ReadFull(random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
