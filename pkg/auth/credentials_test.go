package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestCredentialManager(t *testing.T) {
	manager, store := NewMockManager()

	cred := &Credential{Catalog: "planetarycomputer.microsoft.com", APIKey: "pc-key-1234567890"}
	require.NoError(t, manager.Store(cred))
	assert.False(t, cred.LastModified.IsZero())

	got, err := manager.Retrieve("planetarycomputer.microsoft.com")
	require.NoError(t, err)
	assert.Equal(t, "pc-key-1234567890", got.APIKey)

	assert.Equal(t, "pc-key-1234567890", manager.APIKey("https://planetarycomputer.microsoft.com/api/stac/v1"))
	assert.Equal(t, "", manager.APIKey("https://earth-search.aws.element84.com/v1"))

	creds, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	require.NoError(t, manager.Delete("planetarycomputer.microsoft.com"))
	assert.Equal(t, 0, store.Count())

	_, err = manager.Retrieve("planetarycomputer.microsoft.com")
	assert.True(t, errors.Is(err, ErrCredentialsNotFound))

	err = manager.Delete("planetarycomputer.microsoft.com")
	assert.True(t, errors.Is(err, ErrCredentialsNotFound))
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()
	assert.Error(t, manager.Store(&Credential{APIKey: "k"}))
	assert.Error(t, manager.Store(&Credential{Catalog: "example.com", APIKey: "  "}))
	assert.Error(t, manager.Store(nil))
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keychain locked")
	working := NewMockStore()

	manager := NewManagerWithStores(broken, working)
	require.NoError(t, manager.Store(&Credential{Catalog: "example.com", APIKey: "secret-key"}))
	assert.Equal(t, 0, broken.Count())
	assert.Equal(t, 1, working.Count())
	assert.Equal(t, "secret-key", manager.APIKey("https://example.com/stac"))
}

func TestManagerListKeepsNewest(t *testing.T) {
	older, newer := NewMockStore(), NewMockStore()
	now := time.Now()
	require.NoError(t, older.Store(&Credential{Catalog: "b.example", APIKey: "old", LastModified: now.Add(-time.Hour)}))
	require.NoError(t, older.Store(&Credential{Catalog: "a.example", APIKey: "only", LastModified: now}))
	require.NoError(t, newer.Store(&Credential{Catalog: "b.example", APIKey: "new", LastModified: now}))

	creds, err := NewManagerWithStores(older, newer).List()
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "a.example", creds[0].Catalog)
	assert.Equal(t, "new", creds[1].APIKey)
}

func TestCatalogName(t *testing.T) {
	assert.Equal(t, "planetarycomputer.microsoft.com", CatalogName("https://PlanetaryComputer.microsoft.com/api/stac/v1"))
	assert.Equal(t, "localhost:8080", CatalogName("http://localhost:8080"))
	assert.Equal(t, "my-catalog", CatalogName(" My-Catalog "))
}

func TestSanitize(t *testing.T) {
	cred := &Credential{Catalog: "example.com", APIKey: "abcdefghijklmnop"}
	s := Sanitize(cred)
	assert.Equal(t, "abcd...mnop", s.APIKey)
	assert.Equal(t, "example.com", s.Catalog)
	assert.Equal(t, "********", Sanitize(&Credential{APIKey: "short"}).APIKey)
	assert.Nil(t, Sanitize(nil))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(EnvPassphrase, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Store(&Credential{Catalog: "example.com", APIKey: "very-secret-key"}))
	require.NoError(t, store.Store(&Credential{Catalog: "other.org", APIKey: "second-secret"}))

	got, err := store.Retrieve("example.com")
	require.NoError(t, err)
	assert.Equal(t, "very-secret-key", got.APIKey)
	assert.True(t, store.Exists("other.org"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(content, []byte("very-secret-key")), "file holds plaintext key")

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	creds, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	require.NoError(t, reopened.Delete("example.com"))
	require.NoError(t, reopened.Delete("other.org"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file is removed with its last credential")

	assert.ErrorIs(t, reopened.Delete("other.org"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credential{Catalog: "example.com", APIKey: "k-123"}))

	info, err := os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	got, err := again.Retrieve("example.com")
	require.NoError(t, err)
	assert.Equal(t, "k-123", got.APIKey)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv(EnvPassphrase, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credential{Catalog: "example.com", APIKey: "k"}))

	t.Setenv(EnvPassphrase, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEnvironmentStore(t *testing.T) {
	store := NewEnvironmentStore()

	t.Setenv(EnvCatalogAPIKey, "")
	_, err := store.Retrieve("example.com")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.False(t, store.Exists("example.com"))

	t.Setenv(EnvCatalogAPIKey, "env-key")
	cred, err := store.Retrieve("example.com")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cred.APIKey)
	assert.Equal(t, "example.com", cred.Catalog)

	assert.ErrorIs(t, store.Store(&Credential{Catalog: "x"}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("x"), ErrStoreUnavailable)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(&Credential{Catalog: "example.com", APIKey: "ring-key"}))
	assert.True(t, store.Exists("example.com"))

	got, err := store.Retrieve("example.com")
	require.NoError(t, err)
	assert.Equal(t, "ring-key", got.APIKey)

	require.NoError(t, store.Delete("example.com"))
	_, err = store.Retrieve("example.com")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, store.Delete("example.com"), ErrCredentialsNotFound)
}

func TestShowAPIKeyGuide(t *testing.T) {
	var buf bytes.Buffer
	ShowAPIKeyGuide(&buf, "https://example.com/stac")
	assert.Contains(t, buf.String(), "https://example.com/stac")
	assert.Contains(t, buf.String(), EnvCatalogAPIKey)
}

func TestEncryptedFileStoreRejectsUnknownVersion(t *testing.T) {
	t.Setenv(EnvPassphrase, "pass")
	path := filepath.Join(t.TempDir(), "credentials.enc")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 1, "salt": "", "sealed": ""}`), 0600))

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = store.List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 1")
	assert.False(t, store.Exists("example.com"))
}

func TestEncryptedFileStoreListOrder(t *testing.T) {
	t.Setenv(EnvPassphrase, "pass")
	store, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "credentials.enc"))
	require.NoError(t, err)

	for _, c := range []string{"zeta.example", "alpha.example", "mid.example"} {
		require.NoError(t, store.Store(&Credential{Catalog: c, APIKey: "k-" + c}))
	}
	creds, err := store.List()
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Equal(t, "alpha.example", creds[0].Catalog)
	assert.Equal(t, "zeta.example", creds[2].Catalog)
	assert.Equal(t, "k-mid.example", creds[1].APIKey)
}
