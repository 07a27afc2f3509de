package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// EnvPassphrase overrides the generated passphrase of the encrypted store
const EnvPassphrase = "GLAI_PASSPHRASE"

const (
	keyFileVersion = 2
	saltBytes      = 16
	pbkdf2Rounds   = 100000
	passphraseFile = ".passphrase"
)

// keyFile is the on-disk layout: a PBKDF2 salt and the AES-GCM sealed JSON
// map of catalog to credential, nonce first
type keyFile struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Sealed  []byte `json:"sealed"`
}

// EncryptedFileStore keeps catalog API keys in one AES-GCM encrypted file.
// The key is derived from GLAI_PASSPHRASE, or from a passphrase generated
// next to the file on first use.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the store at path. The file itself is only
// created by the first Store.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}
	pass, err := loadPassphrase(filepath.Join(filepath.Dir(path), passphraseFile))
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Catalog == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(creds map[string]Credential) error {
		creds[cred.Catalog] = *cred
		return nil
	})
}

func (e *EncryptedFileStore) Retrieve(catalog string) (*Credential, error) {
	if catalog == "" {
		return nil, ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	creds, err := e.read()
	if err != nil {
		return nil, err
	}
	cred, ok := creds[catalog]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

// List returns the stored credentials ordered by catalog
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds, err := e.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Credential, 0, len(creds))
	for _, c := range creds {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Catalog < out[j].Catalog })
	return out, nil
}

// Delete removes a catalog key. The file goes away with its last key.
func (e *EncryptedFileStore) Delete(catalog string) error {
	if catalog == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(creds map[string]Credential) error {
		if _, ok := creds[catalog]; !ok {
			return ErrCredentialsNotFound
		}
		delete(creds, catalog)
		return nil
	})
}

func (e *EncryptedFileStore) Exists(catalog string) bool {
	_, err := e.Retrieve(catalog)
	return err == nil
}

// update applies fn to the decrypted map and writes the result back
func (e *EncryptedFileStore) update(fn func(map[string]Credential) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds, err := e.read()
	if err != nil {
		return err
	}
	if err := fn(creds); err != nil {
		return err
	}
	if len(creds) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return e.write(creds)
}

// read returns an empty map when the file does not exist yet
func (e *EncryptedFileStore) read() (map[string]Credential, error) {
	creds := make(map[string]Credential)

	raw, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return creds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var f keyFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	if f.Version != keyFileVersion {
		return nil, fmt.Errorf("credentials file version %d is not supported", f.Version)
	}
	plain, err := open(e.key(f.Salt), f.Sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

// write seals creds under a fresh salt and replaces the file atomically
func (e *EncryptedFileStore) write(creds map[string]Credential) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	sealed, err := seal(e.key(salt), plain)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	raw, err := json.MarshalIndent(keyFile{Version: keyFileVersion, Salt: salt, Sealed: sealed}, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) key(salt []byte) []byte {
	return pbkdf2.Key(e.passphrase, salt, pbkdf2Rounds, 32, sha256.New)
}

// loadPassphrase prefers GLAI_PASSPHRASE, then the passphrase file, and
// generates the file when neither exists
func loadPassphrase(path string) ([]byte, error) {
	if pass := os.Getenv(EnvPassphrase); pass != "" {
		return []byte(pass), nil
	}
	if pass, err := os.ReadFile(path); err == nil && len(pass) > 0 {
		return pass, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate passphrase: %w", err)
	}
	pass := []byte(hex.EncodeToString(b))
	if err := os.WriteFile(path, pass, 0600); err != nil {
		return nil, fmt.Errorf("save passphrase: %w", err)
	}
	return pass, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("sealed data is truncated")
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], nil)
}
