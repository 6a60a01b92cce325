// Package secret decrypts the relayer private keys this service signs
// with. Keys are stored AES-256-GCM encrypted in environment variables,
// the same key-material-never-on-disk posture the teacher's util.Decrypt
// helper was called with from cmd/main.go.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

// Decrypt reads the AES-256-GCM-encrypted, base64-encoded private key
// stored in the environment variable envVar, decrypts it with
// encryptionKey (also read from the environment, never hardcoded), and
// parses the result as a secp256k1 private key.
func Decrypt(envVar, encryptionKeyEnvVar string) (*ecdsa.PrivateKey, error) {
	ciphertextB64 := os.Getenv(envVar)
	if ciphertextB64 == "" {
		return nil, fmt.Errorf("secret: environment variable %s is not set", envVar)
	}

	key := os.Getenv(encryptionKeyEnvVar)
	if key == "" {
		return nil, fmt.Errorf("secret: encryption key environment variable %s is not set", encryptionKeyEnvVar)
	}

	plaintext, err := decryptAESGCM([]byte(key), ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("secret: decrypt %s: %w", envVar, err)
	}

	privateKey, err := crypto.HexToECDSA(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("secret: parse decrypted private key from %s: %w", envVar, err)
	}

	return privateKey, nil
}

// decryptAESGCM reverses the AES-256-GCM seal: the first cipher.Block's
// nonce size worth of bytes is the nonce, the remainder is ciphertext+tag.
func decryptAESGCM(key []byte, ciphertextB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build GCM mode: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce size")
	}

	nonce, encrypted := raw[:nonceSize], raw[nonceSize:]
	return gcm.Open(nil, nonce, encrypted, nil)
}
