package secrets

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/pkg/schema"
)

// mapStore is a simple in-memory SecretStore for vault tests.
type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) StoreSecret(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *mapStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *mapStore) DeleteSecret(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *mapStore) ListSecrets(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func masterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testCredentialVault(t *testing.T) (*CredentialVault, *mapStore) {
	t.Helper()
	s := newMapStore()
	cv, err := NewCredentialVault(s, VaultConfig{MasterKey: masterKey()})
	require.NoError(t, err)
	return cv, s
}

func TestCredentialVaultRoundTrip(t *testing.T) {
	cv, _ := testCredentialVault(t)
	ctx := context.Background()

	creds := adapter.Credentials{"token": "xoxb-123", "team": "eng"}
	require.NoError(t, cv.Store(ctx, "user-1", "slack", creds))

	resolve := cv.Resolver()
	got, err := resolve(ctx, "user-1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-123", got["token"])
	assert.Equal(t, "eng", got["team"])
}

func TestCredentialVaultScopedPerUserAndService(t *testing.T) {
	cv, _ := testCredentialVault(t)
	ctx := context.Background()

	require.NoError(t, cv.Store(ctx, "user-1", "slack", adapter.Credentials{"token": "a"}))
	require.NoError(t, cv.Store(ctx, "user-2", "slack", adapter.Credentials{"token": "b"}))
	require.NoError(t, cv.Store(ctx, "user-1", "github", adapter.Credentials{"token": "c"}))

	resolve := cv.Resolver()
	got, err := resolve(ctx, "user-2", "slack")
	require.NoError(t, err)
	assert.Equal(t, "b", got["token"])
}

func TestCredentialVaultMissingResolvesNil(t *testing.T) {
	cv, _ := testCredentialVault(t)

	resolve := cv.Resolver()
	got, err := resolve(context.Background(), "user-1", "notion")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialVaultDelete(t *testing.T) {
	cv, _ := testCredentialVault(t)
	ctx := context.Background()

	require.NoError(t, cv.Store(ctx, "user-1", "slack", adapter.Credentials{"token": "a"}))
	require.NoError(t, cv.Delete(ctx, "user-1", "slack"))

	resolve := cv.Resolver()
	got, err := resolve(ctx, "user-1", "slack")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCredentialVaultEncryptedAtRest(t *testing.T) {
	cv, s := testCredentialVault(t)
	ctx := context.Background()

	require.NoError(t, cv.Store(ctx, "user-1", "openai", adapter.Credentials{"api_key": "sk-plain"}))

	raw := s.data[credentialKey("user-1", "openai")]
	require.NotEmpty(t, raw)
	assert.NotContains(t, string(raw), "sk-plain")
}

func TestCredentialVaultCiphertextBoundToIdentity(t *testing.T) {
	cv, s := testCredentialVault(t)
	ctx := context.Background()

	require.NoError(t, cv.Store(ctx, "user-1", "slack", adapter.Credentials{"token": "a"}))

	// Replaying user-1's ciphertext under user-2's key must fail
	// authentication, not decrypt.
	s.data[credentialKey("user-2", "slack")] = s.data[credentialKey("user-1", "slack")]

	resolve := cv.Resolver()
	_, err := resolve(ctx, "user-2", "slack")
	require.Error(t, err)
	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeVault, ferr.Code)
}

func TestCredentialVaultWrongKeyCannotDecrypt(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()

	cv1, err := NewCredentialVault(s, VaultConfig{MasterKey: masterKey()})
	require.NoError(t, err)
	require.NoError(t, cv1.Store(ctx, "user-1", "slack", adapter.Credentials{"token": "hidden"}))

	other := make([]byte, 32)
	other[0] = 0xFF
	cv2, err := NewCredentialVault(s, VaultConfig{MasterKey: other})
	require.NoError(t, err)

	_, err = cv2.Resolver()(ctx, "user-1", "slack")
	require.Error(t, err)
}

func TestCredentialVaultUniqueNonces(t *testing.T) {
	cv, s := testCredentialVault(t)
	ctx := context.Background()

	creds := adapter.Credentials{"token": "same-value"}
	require.NoError(t, cv.Store(ctx, "user-1", "slack", creds))
	ct1 := make([]byte, len(s.data[credentialKey("user-1", "slack")]))
	copy(ct1, s.data[credentialKey("user-1", "slack")])

	require.NoError(t, cv.Store(ctx, "user-1", "slack", creds))
	ct2 := s.data[credentialKey("user-1", "slack")]

	// Same plaintext must produce different ciphertext (random nonce).
	assert.False(t, bytes.Equal(ct1, ct2))
}

func TestCredentialVaultPassphraseDerivation(t *testing.T) {
	s := newMapStore()
	cv, err := NewCredentialVault(s, VaultConfig{
		Passphrase: "my-secure-passphrase",
		Salt:       []byte("test-salt-16byte"),
		Iterations: 1000, // low for test speed
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cv.Store(ctx, "user-1", "github", adapter.Credentials{"token": "gh-1"}))
	got, err := cv.Resolver()(ctx, "user-1", "github")
	require.NoError(t, err)
	assert.Equal(t, "gh-1", got["token"])
}

func TestCredentialVaultListServices(t *testing.T) {
	cv, _ := testCredentialVault(t)
	ctx := context.Background()

	require.NoError(t, cv.Store(ctx, "user-1", "slack", adapter.Credentials{"token": "a"}))
	require.NoError(t, cv.Store(ctx, "user-1", "github", adapter.Credentials{"token": "b"}))
	require.NoError(t, cv.Store(ctx, "user-2", "notion", adapter.Credentials{"token": "c"}))

	services, err := cv.ListServices(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"slack", "github"}, services)
}

func TestCredentialVaultValidation(t *testing.T) {
	cv, _ := testCredentialVault(t)

	err := cv.Store(context.Background(), "", "slack", adapter.Credentials{})
	require.Error(t, err)
	err = cv.Store(context.Background(), "user-1", "", adapter.Credentials{})
	require.Error(t, err)
}

func TestCredentialVaultKeyConfig(t *testing.T) {
	_, err := NewCredentialVault(newMapStore(), VaultConfig{MasterKey: []byte("too-short")})
	require.Error(t, err)
	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeVault, ferr.Code)

	_, err = NewCredentialVault(newMapStore(), VaultConfig{})
	require.Error(t, err)

	_, err = NewCredentialVault(newMapStore(), VaultConfig{Passphrase: "pass"})
	require.Error(t, err)
}
