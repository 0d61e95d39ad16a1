// internal/secrets/secrets.go
//
// Webhook-secret resolution.
//
// Context
// -------
// Domain rows may store their webhook shared secret either inline or as a
// reference of the form `vault:<mount>/<path>#<key>`.  The registry cache
// resolves references through this package before handing records to the
// transport layer, so signing code never sees a Vault URI.
//
// Public workflow
// ---------------
//  1. res, err := secrets.New(ctx)                 // during boot; nil Vault is fine.
//  2. secret, err := res.Resolve(ctx, ref)         // anywhere in the app.
//
// Environment expectations
// ------------------------
// • VAULT_ADDR  – scheme and host of the Vault server.
// • VAULT_TOKEN – initial token (falls back to ~/.vault-token).
//
// When VAULT_ADDR is unset, New returns a passthrough resolver so dev and
// test deployments can keep secrets inline.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// Prefix marks a secret value that must be resolved through Vault.
const Prefix = "vault:"

// cacheTTL bounds how long a resolved secret is reused before Vault is
// consulted again.  Rotation therefore takes effect within this window.
const cacheTTL = 5 * time.Minute

// Resolver turns a configured secret reference into a usable secret.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// New returns a Vault-backed resolver when VAULT_ADDR is configured, and a
// passthrough otherwise.
func New(ctx context.Context) (Resolver, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		return passthrough{}, nil
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}

	return &vaultResolver{
		api:   api,
		cache: make(map[string]cached),
	}, nil
}

//
// passthrough resolver
//

type passthrough struct{}

// Resolve returns inline values verbatim and refuses vault: references,
// which would otherwise silently become literal signing keys.
func (passthrough) Resolve(_ context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, Prefix) {
		return "", errors.New("vault reference configured but VAULT_ADDR is unset")
	}
	return ref, nil
}

//
// Vault-backed resolver
//

type cached struct {
	val string
	exp time.Time
}

// vaultResolver is safe for concurrent use.  Resolved values are cached
// per reference with a short TTL.
type vaultResolver struct {
	api *vault.Client

	cacheMu sync.RWMutex
	cache   map[string]cached
}

// Resolve handles both inline values and `vault:mount/path#key` references.
func (r *vaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, Prefix) {
		return ref, nil
	}

	spec := strings.TrimPrefix(ref, Prefix)
	pathPart, key, ok := strings.Cut(spec, "#")
	if !ok || pathPart == "" || key == "" {
		return "", fmt.Errorf("malformed vault reference %q", ref)
	}

	r.cacheMu.RLock()
	if cv, hit := r.cache[spec]; hit && time.Now().Before(cv.exp) {
		r.cacheMu.RUnlock()
		return cv.val, nil
	}
	r.cacheMu.RUnlock()

	mount, rel, ok := strings.Cut(pathPart, "/")
	if !ok {
		return "", fmt.Errorf("vault reference %q lacks a mount", ref)
	}

	sec, err := r.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", pathPart, err)
	}
	raw, found := sec.Data[key]
	if !found {
		return "", fmt.Errorf("key %q not found in secret %q", key, pathPart)
	}
	val, isStr := raw.(string)
	if !isStr {
		return "", fmt.Errorf("value at %s#%s is not a string", pathPart, key)
	}

	r.cacheMu.Lock()
	r.cache[spec] = cached{val: val, exp: time.Now().Add(cacheTTL)}
	r.cacheMu.Unlock()

	return val, nil
}
