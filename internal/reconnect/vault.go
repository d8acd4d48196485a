// Package reconnect manages single-use reconnection tokens. A token is
// issued to every connection at handshake time and carries a snapshot of the
// connection's identity so a dropped client can resume without re-presenting
// its bearer token.
package reconnect

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/metrics"
)

const (
	tokenPrefix       = "reconnect_"
	suffixAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength      = 9
	defaultTTL        = 5 * time.Minute
	defaultSweepEvery = 5 * time.Minute
)

type entry struct {
	identity  auth.Identity
	expiresAt time.Time
}

// Vault stores issued reconnection tokens until they are redeemed or expire.
// Expiry is enforced lazily on Redeem plus a single background sweeper; no
// per-token timers.
type Vault struct {
	tokens map[string]entry
	ttl    time.Duration
	mu     sync.Mutex

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
	sweepWg       sync.WaitGroup
}

// NewVault creates a vault with the default 5-minute token TTL
func NewVault() *Vault {
	return NewVaultWithTTL(defaultTTL)
}

// NewVaultWithTTL creates a vault with a custom token TTL
func NewVaultWithTTL(ttl time.Duration) *Vault {
	return &Vault{
		tokens:        make(map[string]entry),
		ttl:           ttl,
		sweepInterval: defaultSweepEvery,
		stopSweep:     make(chan struct{}),
	}
}

// Issue stores an identity snapshot and returns the token that redeems it.
// Token format: reconnect_<unixMillis>_<randomSuffix>.
func (v *Vault) Issue(identity auth.Identity) string {
	token := fmt.Sprintf("%s%d_%s", tokenPrefix, time.Now().UnixMilli(), randomSuffix())

	v.mu.Lock()
	v.tokens[token] = entry{
		identity:  identity,
		expiresAt: time.Now().Add(v.ttl),
	}
	v.mu.Unlock()

	metrics.ReconnectTokensIssued.Inc()
	return token
}

// Redeem exchanges a token for its identity snapshot. Tokens are single use:
// a successful redemption deletes the token, and an expired token is deleted
// without redeeming.
func (v *Vault) Redeem(token string) (auth.Identity, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.tokens[token]
	if !ok {
		return auth.Identity{}, false
	}

	delete(v.tokens, token)

	if time.Now().After(e.expiresAt) {
		return auth.Identity{}, false
	}

	metrics.ReconnectTokensRedeemed.Inc()
	return e.identity, true
}

// Size returns the number of live tokens, counting expired ones not yet swept
func (v *Vault) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tokens)
}

// Sweep removes expired tokens
func (v *Vault) Sweep() {
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()

	for token, e := range v.tokens {
		if now.After(e.expiresAt) {
			delete(v.tokens, token)
		}
	}
}

// StartCleanup starts the background sweeper goroutine
func (v *Vault) StartCleanup() {
	v.sweepWg.Add(1)
	go func() {
		defer v.sweepWg.Done()
		ticker := time.NewTicker(v.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				v.Sweep()
			case <-v.stopSweep:
				return
			}
		}
	}()
}

// StopCleanup stops the sweeper goroutine and waits for it to finish
func (v *Vault) StopCleanup() {
	v.stopOnce.Do(func() {
		close(v.stopSweep)
	})
	v.sweepWg.Wait()
}

func randomSuffix() string {
	suffix := make([]byte, suffixLength)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure leaves the process unable to mint
			// credentials; fall back to a fixed character rather than panic
			suffix[i] = '0'
			continue
		}
		suffix[i] = suffixAlphabet[n.Int64()]
	}
	return string(suffix)
}
