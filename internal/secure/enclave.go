// Package secure keeps long-lived credentials, such as a database master
// password, encrypted in memory with memguard.
//
// Linux needs RLIMIT_MEMLOCK high enough for memguard to mlock its pages.
// Binaries call Purge on exit to wipe every enclave key.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed Credential is used.
var ErrDestroyed = errors.New("credential has been destroyed")

// Credential holds a secret string in a memguard enclave. The plaintext only
// exists inside Use callbacks.
type Credential struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	empty     bool
	destroyed bool
}

// NewCredential seals value. memguard wipes its copy of the bytes; the
// caller's string is left as is.
func NewCredential(value string) *Credential {
	if value == "" {
		return &Credential{empty: true}
	}
	return &Credential{enclave: memguard.NewEnclave([]byte(value))}
}

// Use decrypts the credential into a locked buffer, passes the plaintext to
// fn and wipes the buffer afterwards. fn must not retain the slice.
func (c *Credential) Use(fn func(plaintext []byte) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.destroyed {
		return ErrDestroyed
	}
	if c.empty {
		return fn(nil)
	}

	locked, err := c.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Reveal returns the plaintext as a string, for APIs that only take strings
// such as a DSN. Prefer Use when the consumer accepts bytes.
func (c *Credential) Reveal() (string, error) {
	var out string
	err := c.Use(func(plaintext []byte) error {
		out = string(plaintext)
		return nil
	})
	return out, err
}

// Destroy drops the enclave. It is safe to call more than once.
func (c *Credential) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enclave = nil
	c.destroyed = true
}

// String keeps credentials out of logs and fmt output.
func (c *Credential) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v.
func (c *Credential) GoString() string {
	return "[REDACTED]"
}

// Purge wipes all memguard state. Call it once on process exit.
func Purge() {
	memguard.Purge()
}

// CatchInterrupt purges memguard state and exits when the process receives
// an interrupt, for binaries that never return from main normally.
func CatchInterrupt() {
	memguard.CatchInterrupt()
}
