package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

const appName = "glai"

// Credential is the API key used to access one scene catalog
type Credential struct {
	// Catalog is the catalog host, e.g. "planetarycomputer.microsoft.com"
	Catalog      string    `json:"catalog"`
	APIKey       string    `json:"api_key"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves the credential of a catalog
	Store(cred *Credential) error

	// Retrieve gets the credential of a catalog
	Retrieve(catalog string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential of a catalog
	Delete(catalog string) error

	// Exists checks if a credential exists for a catalog
	Exists(catalog string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager trying the system keychain, then an
// encrypted file in the user config directory, then the environment
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over an explicit store chain
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// CatalogName reduces a catalog URL to the host used as credential key.
// Values without a scheme are returned lower-cased as given.
func CatalogName(catalogURL string) string {
	u, err := url.Parse(catalogURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(catalogURL))
	}
	return strings.ToLower(u.Host)
}

// Store saves a credential using the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.Catalog == "" {
		return errors.New("catalog is required")
	}
	if strings.TrimSpace(cred.APIKey) == "" {
		return errors.New("API key is required")
	}

	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets a credential from the first store that has it
func (m *Manager) Retrieve(catalog string) (*Credential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(catalog); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for catalog %s", ErrCredentialsNotFound, catalog)
}

// APIKey returns the stored key for a catalog URL, or "" when none is stored.
// Public catalogs need no key, so a missing credential is not an error.
func (m *Manager) APIKey(catalogURL string) string {
	cred, err := m.Retrieve(CatalogName(catalogURL))
	if err != nil {
		return ""
	}
	return cred.APIKey
}

// List returns all stored credentials, most recent version per catalog,
// sorted by catalog
func (m *Manager) List() ([]*Credential, error) {
	byCatalog := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byCatalog[cred.Catalog]; !ok || cred.LastModified.After(existing.LastModified) {
				byCatalog[cred.Catalog] = cred
			}
		}
	}

	result := make([]*Credential, 0, len(byCatalog))
	for _, cred := range byCatalog {
		result = append(result, cred)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Catalog < result[j].Catalog })
	return result, nil
}

// Delete removes a credential from all stores
func (m *Manager) Delete(catalog string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(catalog); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for catalog %s", ErrCredentialsNotFound, catalog)
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, appName)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", appName)
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize returns a copy of the credential with the key masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}

	return &Credential{
		Catalog:      cred.Catalog,
		APIKey:       maskString(cred.APIKey),
		LastModified: cred.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
