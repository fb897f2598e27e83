package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/pkg/schema"
)

// CredentialVault stores per-user service credentials (OAuth tokens, API
// keys) encrypted with AES-256-GCM, keyed by user and service. The store key
// is fed to GCM as associated data, so a ciphertext copied under another
// user's or service's key fails authentication instead of decrypting. It
// backs the credential resolver that external-action and agent runners
// consult.
type CredentialVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewCredentialVault opens the vault over the given store.
func NewCredentialVault(s SecretStore, cfg VaultConfig) (*CredentialVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &CredentialVault{store: s, aead: aead}, nil
}

const credentialPrefix = "credentials/"

func credentialKey(userID, service string) string {
	return credentialPrefix + userID + "/" + service
}

func (c *CredentialVault) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func (c *CredentialVault) open(key string, ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(key))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

// Store persists a user's credentials for one service.
func (c *CredentialVault) Store(ctx context.Context, userID, service string, creds adapter.Credentials) error {
	if userID == "" || service == "" {
		return schema.NewError(schema.ErrCodeValidation, "user id and service are required")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeVault, "encode credentials: %s", err.Error())
	}
	key := credentialKey(userID, service)
	sealed, err := c.seal(key, data)
	if err != nil {
		return err
	}
	return c.store.StoreSecret(ctx, key, sealed)
}

// Delete removes a user's credentials for one service.
func (c *CredentialVault) Delete(ctx context.Context, userID, service string) error {
	return c.store.DeleteSecret(ctx, credentialKey(userID, service))
}

// ListServices reports which services a user has stored credentials for.
func (c *CredentialVault) ListServices(ctx context.Context, userID string) ([]string, error) {
	keys, err := c.store.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}
	prefix := credentialPrefix + userID + "/"
	var services []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			services = append(services, k[len(prefix):])
		}
	}
	return services, nil
}

// Resolver adapts the vault to the runner-facing credential lookup. A
// missing credential resolves to nil so node-level credentials still apply.
func (c *CredentialVault) Resolver() adapter.CredentialResolver {
	return func(ctx context.Context, userID, service string) (adapter.Credentials, error) {
		key := credentialKey(userID, service)
		sealed, err := c.store.GetSecret(ctx, key)
		if err != nil {
			var ferr *schema.FlowError
			if errors.As(err, &ferr) && ferr.Code == schema.ErrCodeNotFound {
				return nil, nil
			}
			return nil, err
		}
		data, err := c.open(key, sealed)
		if err != nil {
			return nil, err
		}
		var creds adapter.Credentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "decode credentials: %s", err.Error())
		}
		return creds, nil
	}
}
