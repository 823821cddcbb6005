package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// loadOrCreateKeypair reads a solana-keygen JSON keypair, writing a new one
// when the file does not exist yet.
func loadOrCreateKeypair(path string) (solana.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("position.owner_keypair is required")
	}
	if _, err := os.Stat(path); err == nil {
		return solana.PrivateKeyFromSolanaKeygenFile(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	key := solana.NewWallet().PrivateKey
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	payload, err := json.Marshal(ints)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
