package sftpagent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyChanged is returned when a known host presents another key.
var ErrHostKeyChanged = errors.New("host key changed")

// HostKeys is a trust-on-first-use known_hosts file. A host seen for the
// first time is accepted and recorded; a recorded host must present the
// same key again.
type HostKeys struct {
	path string
	mu   sync.Mutex
}

// NewHostKeys returns the known hosts kept at path. The file is created on
// the first accepted host.
func NewHostKeys(path string) *HostKeys {
	return &HostKeys{path: path}
}

// Path returns the known_hosts file.
func (k *HostKeys) Path() string { return k.path }

// Check is an ssh.HostKeyCallback. The file is read on every call so keys
// recorded by concurrent transfers are seen.
func (k *HostKeys) Check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := os.Stat(k.path); err == nil {
		cb, err := knownhosts.New(k.path)
		if err != nil {
			return fmt.Errorf("load %s: %w", k.path, err)
		}
		err = cb(hostname, remote, key)
		if err == nil {
			return nil
		}
		var ke *knownhosts.KeyError
		if !errors.As(err, &ke) {
			return err
		}
		if len(ke.Want) > 0 {
			return fmt.Errorf("%w for %s (got %s), remove the entry from %s",
				ErrHostKeyChanged, hostname, ssh.FingerprintSHA256(key), k.path)
		}
	}
	return k.add(hostname, key)
}

func (k *HostKeys) add(hostname string, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("create known_hosts dir: %w", err)
	}
	f, err := os.OpenFile(k.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write known_hosts: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key))
	return err
}
