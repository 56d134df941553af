package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "dlmgr"
	keyringUser    = "rpc-secret"
)

var (
	keyringSet = keyring.Set
	keyringGet = keyring.Get
	randRead   = rand.Read
)

// ResolveSecret fills RPC.Secret from the OS keyring when it is empty and
// RPC.Keyring is set. A fresh secret is generated and stored on first use.
func (c *Config) ResolveSecret() error {
	if c.RPC.Secret != "" || !c.RPC.Keyring {
		return nil
	}
	secret, err := keyringGet(keyringService, keyringUser)
	if err == nil {
		c.RPC.Secret = secret
		return nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("read rpc secret: %w", err)
	}
	key := make([]byte, 32)
	if _, err := randRead(key); err != nil {
		return fmt.Errorf("generate rpc secret: %w", err)
	}
	secret = hex.EncodeToString(key)
	if err := keyringSet(keyringService, keyringUser, secret); err != nil {
		return fmt.Errorf("store rpc secret: %w", err)
	}
	c.RPC.Secret = secret
	return nil
}
