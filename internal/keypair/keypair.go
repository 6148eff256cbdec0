// Package keypair provides a rotating ephemeral P-384 ECDH keypair used
// to derive the hybrid-envelope shared secret for dealt shares and
// fetched shares. Grounded on
// _examples/original_source/ssss/src/keypair.rs: a current/next slot
// pair behind a single RWMutex, refreshed under a check-then-refresh-
// under-write-lock pattern that re-validates the refresh condition after
// acquiring the write lock, avoiding duplicate rotations from racing
// readers.
package keypair

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DealSharesDomainSep and GetShareDomainSep are the HKDF "info" domain
// separation tags for the two hybrid-envelope uses, matching
// keypair.rs's DEAL_SHARES_DOMAIN_SEP / GET_SHARE_DOMAIN_SEP.
var (
	DealSharesDomainSep = []byte("deal-shares")
	GetShareDomainSep   = []byte("get-share")
)

const (
	// DefaultLifetime is how long a keypair is offered as "current"
	// before it must be rotated out.
	DefaultLifetime = time.Hour
	// DefaultSwapWindow is how long before expiry a "next" keypair is
	// generated and made available, so holders of the current key's id
	// have an overlap window to learn about the upcoming one.
	DefaultSwapWindow = 5 * time.Minute
)

// KeyPair is an ephemeral P-384 ECDH keypair plus its derived id.
type KeyPair struct {
	ID         string
	PrivateKey *ecdh.PrivateKey
	PublicKey  *ecdh.PublicKey
	expiry     time.Time
}

// Expiry reports when kp stops being offered as current/next.
func (kp *KeyPair) Expiry() time.Time {
	return kp.expiry
}

// Fingerprint returns the hex SHA-256 digest of the SEC1-encoded
// uncompressed public key.
func Fingerprint(pub *ecdh.PublicKey) string {
	sum := sha256.Sum256(pub.Bytes())
	return hex.EncodeToString(sum[:])
}

func generate() (*KeyPair, error) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keypair: generate P-384 key: %w", err)
	}
	pub := priv.PublicKey()
	id := Fingerprint(pub)[:16]
	return &KeyPair{ID: id, PrivateKey: priv, PublicKey: pub}, nil
}

// Provider rotates a current keypair (and, in its swap window, a
// pre-generated next keypair) so that holders of an old key id can still
// be served while a new one becomes current.
type Provider struct {
	mu         sync.RWMutex
	current    *KeyPair
	next       *KeyPair
	lifetime   time.Duration
	swapWindow time.Duration
}

// NewProvider constructs a Provider with an initial current keypair.
func NewProvider(lifetime, swapWindow time.Duration) (*Provider, error) {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if swapWindow <= 0 {
		swapWindow = DefaultSwapWindow
	}
	kp, err := generate()
	if err != nil {
		return nil, err
	}
	kp.expiry = time.Now().Add(lifetime)
	return &Provider{current: kp, lifetime: lifetime, swapWindow: swapWindow}, nil
}

// needsRefresh reports whether the current/next pair must be rotated,
// given the current time. Caller must hold at least a read lock.
func (p *Provider) needsRefresh(now time.Time) bool {
	if now.After(p.current.expiry) {
		return true
	}
	if p.next == nil && now.Add(p.swapWindow).After(p.current.expiry) {
		return true
	}
	return false
}

// refresh re-checks the refresh condition under the write lock (the
// read-locked check that triggered this call may have raced with
// another goroutine that already refreshed) before mutating state.
func (p *Provider) refresh() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !p.needsRefresh(now) {
		return nil
	}

	if now.After(p.current.expiry) {
		if p.next != nil {
			p.current = p.next
			p.next = nil
		} else {
			kp, err := generate()
			if err != nil {
				return err
			}
			kp.expiry = now.Add(p.lifetime)
			p.current = kp
		}
	}

	if p.next == nil && now.Add(p.swapWindow).After(p.current.expiry) {
		kp, err := generate()
		if err != nil {
			return err
		}
		kp.expiry = now.Add(p.lifetime)
		p.next = kp
	}
	return nil
}

// ensureFresh runs the read-lock check, then refreshes under write lock
// only if needed.
func (p *Provider) ensureFresh() error {
	p.mu.RLock()
	stale := p.needsRefresh(time.Now())
	p.mu.RUnlock()
	if !stale {
		return nil
	}
	return p.refresh()
}

// Latest returns the keypair that should be advertised to new callers:
// the next keypair if one has been pre-generated (so a caller who
// fetches the identity right before rotation gets the key that will
// still be valid after it), else the current one.
func (p *Provider) Latest() (*KeyPair, error) {
	if err := p.ensureFresh(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.next != nil {
		return p.next, nil
	}
	return p.current, nil
}

// ByID returns the keypair with the given id, searching current then
// next. A nil id is equivalent to calling Latest.
func (p *Provider) ByID(id string) (*KeyPair, error) {
	if id == "" {
		return p.Latest()
	}
	if err := p.ensureFresh(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current.ID == id {
		return p.current, nil
	}
	if p.next != nil && p.next.ID == id {
		return p.next, nil
	}
	return nil, fmt.Errorf("keypair: no key with id %q", id)
}
