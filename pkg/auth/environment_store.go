package auth

import (
	"os"
	"time"
)

// EnvCatalogAPIKey holds an API key applying to whichever catalog is configured
const EnvCatalogAPIKey = "GLAI_CATALOG_API_KEY"

// EnvironmentStore implements CredentialStore over GLAI_CATALOG_API_KEY.
// It is read-only and answers for every catalog.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment key for any catalog
func (e *EnvironmentStore) Retrieve(catalog string) (*Credential, error) {
	key := os.Getenv(EnvCatalogAPIKey)
	if key == "" {
		return nil, ErrCredentialsNotFound
	}
	if catalog == "" {
		catalog = "default"
	}
	return &Credential{Catalog: catalog, APIKey: key, LastModified: time.Now()}, nil
}

// List returns a single credential if the variable is set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("environment")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(catalog string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment key is set
func (e *EnvironmentStore) Exists(catalog string) bool {
	return os.Getenv(EnvCatalogAPIKey) != ""
}
