package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	crypt "github.com/i5heu/ouroboros-crypt"
	"github.com/i5heu/ouroboros-crypt/keys"
)

// LoadOrCreateKeySigner loads the key pair stored at path, or
// generates and saves a new one if the file does not exist.
// created reports which happened.
func LoadOrCreateKeySigner(path string) (signer *KeySigner, created bool, err error) { // A
	_, err = os.Stat(path)
	switch {
	case err == nil:
		c, err := crypt.NewFromFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("load key %s: %w", path, err)
		}
		return NewKeySigner(c.Keys), false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("stat key %s: %w", path, err)
	}

	ac, err := keys.NewAsyncCrypt()
	if err != nil {
		return nil, false, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := ac.SaveToFile(path); err != nil {
		return nil, false, fmt.Errorf("save key %s: %w", path, err)
	}
	return NewKeySigner(ac), true, nil
}
