package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/veilvault/veilvault/internal/log"
)

// keystoreFile is the on-disk JSON format for an encrypted key file. The
// seed is the only secret; owner entries are public metadata.
type keystoreFile struct {
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	EncryptedSeed []byte       `json:"encrypted_seed"`
	Owners        []OwnerEntry `json:"owners"`
	NextIndex     uint32       `json:"next_index"`
}

// OwnerEntry records one derived owner key: its derivation leaf, address
// and local key fingerprint.
type OwnerEntry struct {
	Account uint32 `json:"account"`
	Index   uint32 `json:"index"`
	Address string `json:"address"`
	KeyID   string `json:"key_id"`
}

// Keystore manages encrypted key files in one directory.
type Keystore struct {
	path string
	log  zerolog.Logger
}

// New creates a keystore rooted at the given directory, creating it with
// owner-only permissions if needed.
func New(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path, log: log.Keystore}, nil
}

func (ks *Keystore) filePath(name string) string {
	return filepath.Join(ks.path, name+".key")
}

// Create writes a new encrypted key file holding the seed. Fails if a file
// with the same name exists.
func (ks *Keystore) Create(name string, seed, password []byte, params EncryptionParams) error {
	path := ks.filePath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key file %q already exists", name)
	}

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		Owners:        []OwnerEntry{},
	}
	ks.log.Info().Str("name", name).Msg("key file created")
	return ks.writeFile(path, &kf)
}

// Load decrypts a key file and returns the seed bytes.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(ks.filePath(name))
	if err != nil {
		return nil, err
	}

	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key file: %w", err)
	}
	return seed, nil
}

// AddOwner records a derived owner key. Idempotent when the same address
// is already recorded; a path clash with a different address is an error.
func (ks *Keystore) AddOwner(name string, entry OwnerEntry) error {
	path := ks.filePath(name)
	kf, err := ks.readFile(path)
	if err != nil {
		return err
	}

	for _, existing := range kf.Owners {
		if existing.Account == entry.Account && existing.Index == entry.Index {
			if existing.Address == entry.Address {
				return nil
			}
			return fmt.Errorf("owner path account=%d index=%d already exists", entry.Account, entry.Index)
		}
		if existing.Address != "" && existing.Address == entry.Address {
			return nil
		}
	}

	kf.Owners = append(kf.Owners, entry)
	if entry.Index >= kf.NextIndex {
		kf.NextIndex = entry.Index + 1
	}
	return ks.writeFile(path, kf)
}

// ListOwners returns the recorded owner entries.
func (ks *Keystore) ListOwners(name string) ([]OwnerEntry, error) {
	kf, err := ks.readFile(ks.filePath(name))
	if err != nil {
		return nil, err
	}
	return kf.Owners, nil
}

// NextIndex returns the next unused derivation index.
func (ks *Keystore) NextIndex(name string) (uint32, error) {
	kf, err := ks.readFile(ks.filePath(name))
	if err != nil {
		return 0, err
	}
	return kf.NextIndex, nil
}

// List returns the names of all key files in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".key" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a key file.
func (ks *Keystore) Delete(name string) error {
	path := ks.filePath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("key file %q not found", name)
	}
	return os.Remove(path)
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	return &kf, nil
}
