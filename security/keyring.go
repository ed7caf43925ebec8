package security

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// KeyRotationWindow gates when a retired key may still open tokens.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type keyVersion struct {
	id     string
	key    []byte
	window KeyRotationWindow
}

// Keyring holds the primary encryption key and retired keys that can still
// decrypt rows written before a rotation.
type Keyring struct {
	mu      sync.RWMutex
	current keyVersion
	retired []keyVersion
	now     func() time.Time
}

func NewKeyring(primaryID string, keyMaterial []byte) (*Keyring, error) {
	version, err := newKeyVersion(primaryID, keyMaterial, KeyRotationWindow{})
	if err != nil {
		return nil, err
	}
	return &Keyring{current: version, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Rotate promotes a new primary key. The previous primary stays available
// for decryption until retireAfter elapses (zero keeps it indefinitely).
func (k *Keyring) Rotate(newID string, keyMaterial []byte, retireAfter time.Duration) error {
	version, err := newKeyVersion(newID, keyMaterial, KeyRotationWindow{})
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if version.id == k.current.id {
		return fmt.Errorf("security: key id %q is already primary", version.id)
	}
	previous := k.current
	if retireAfter > 0 {
		previous.window.NotAfter = k.now().Add(retireAfter)
	}
	k.retired = append([]keyVersion{previous}, k.retired...)
	k.current = version
	return nil
}

// AddRetired registers an older key for decryption only.
func (k *Keyring) AddRetired(id string, keyMaterial []byte, window KeyRotationWindow) error {
	version, err := newKeyVersion(id, keyMaterial, window)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.retired = append(k.retired, version)
	k.mu.Unlock()
	return nil
}

func (k *Keyring) PrimaryID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current.id
}

func (k *Keyring) primary() keyVersion {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// versions returns the primary first, then retired keys still inside their window.
func (k *Keyring) versions() []keyVersion {
	k.mu.RLock()
	defer k.mu.RUnlock()
	now := k.now()
	out := make([]keyVersion, 0, 1+len(k.retired))
	out = append(out, k.current)
	for _, version := range k.retired {
		if version.window.Allows(now) {
			out = append(out, version)
		}
	}
	return out
}

func newKeyVersion(id string, keyMaterial []byte, window KeyRotationWindow) (keyVersion, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return keyVersion{}, fmt.Errorf("security: key id is required")
	}
	if len(keyMaterial) == 0 {
		return keyVersion{}, fmt.Errorf("security: key material is required")
	}
	return keyVersion{id: id, key: normalizeKey(keyMaterial), window: window}, nil
}
