// Package credentials stores exchange API credentials encrypted at rest.
// The vault is a single AES-256-GCM sealed file; the sealing key is derived
// with PBKDF2-SHA256 from a machine-scoped password and a per-vault salt.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	pterrors "github.com/powertraderai/powertrader/pkg/errors"
)

const (
	saltFileName  = ".pt_salt"
	vaultFileName = "credentials.enc"
	kdfIterations = 100000
	keyLength     = 32
)

// Credentials is one venue's API credential set. Passphrase is only used by
// venues that require it (KuCoin).
type Credentials struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Empty reports whether the credential set is unusable.
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

type sealedVault struct {
	Data      string `json:"data"`
	Nonce     string `json:"nonce"`
	Algorithm string `json:"algorithm"`
}

// Vault manages the encrypted credential file for all venues.
type Vault struct {
	dir       string
	saltFile  string
	vaultFile string
}

// NewVault creates a vault rooted at dir.
func NewVault(dir string) *Vault {
	return &Vault{
		dir:       dir,
		saltFile:  filepath.Join(dir, saltFileName),
		vaultFile: filepath.Join(dir, vaultFileName),
	}
}

// Resolve returns credentials for the named venue, trying in order: the
// encrypted vault, POWERTRADER_<VENUE>_API_KEY/_API_SECRET/_PASSPHRASE
// environment variables, then legacy plaintext files which are migrated into
// the vault and deleted on success.
func (v *Vault) Resolve(exchange string) (Credentials, error) {
	if creds, err := v.Get(exchange); err == nil && !creds.Empty() {
		return creds, nil
	}

	if creds := fromEnv(exchange); !creds.Empty() {
		return creds, nil
	}

	if creds, ok := v.migratePlaintext(exchange); ok {
		return creds, nil
	}

	return Credentials{}, pterrors.NewConfigError("no credentials found for " + exchange)
}

// Get reads a venue's credentials from the encrypted vault.
func (v *Vault) Get(exchange string) (Credentials, error) {
	all, err := v.load()
	if err != nil {
		return Credentials{}, err
	}
	creds, ok := all[strings.ToLower(exchange)]
	if !ok {
		return Credentials{}, pterrors.NewConfigError("no vault entry for " + exchange)
	}
	return creds, nil
}

// Store writes or replaces a venue's credentials in the vault.
func (v *Vault) Store(exchange string, creds Credentials) error {
	if creds.Empty() {
		return pterrors.NewValidationError("credentials", "api key and secret are required")
	}
	all, err := v.load()
	if err != nil {
		all = map[string]Credentials{}
	}
	all[strings.ToLower(exchange)] = creds
	return v.save(all)
}

// Delete removes a venue's credentials from the vault.
func (v *Vault) Delete(exchange string) error {
	all, err := v.load()
	if err != nil {
		return err
	}
	delete(all, strings.ToLower(exchange))
	return v.save(all)
}

// HasVault reports whether an encrypted vault exists on disk.
func (v *Vault) HasVault() bool {
	_, errSalt := os.Stat(v.saltFile)
	_, errVault := os.Stat(v.vaultFile)
	return errSalt == nil && errVault == nil
}

func (v *Vault) load() (map[string]Credentials, error) {
	raw, err := os.ReadFile(v.vaultFile)
	if err != nil {
		return nil, pterrors.NewConfigError("credential vault not found")
	}
	var sealed sealedVault
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, pterrors.NewDataError("credential vault is corrupt", err)
	}

	key, err := v.derivedKey()
	if err != nil {
		return nil, err
	}
	plaintext, err := openSealed(key, sealed)
	if err != nil {
		return nil, pterrors.NewDataError("credential vault decryption failed", err)
	}

	var all map[string]Credentials
	if err := json.Unmarshal(plaintext, &all); err != nil {
		return nil, pterrors.NewDataError("credential vault payload is corrupt", err)
	}
	return all, nil
}

func (v *Vault) save(all map[string]Credentials) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create vault dir: %w", err)
	}
	key, err := v.derivedKey()
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to marshal vault payload: %w", err)
	}
	sealed, err := seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal vault: %w", err)
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("failed to marshal sealed vault: %w", err)
	}
	return secureWrite(v.vaultFile, raw)
}

// derivedKey derives the vault key from the machine password and salt,
// creating the salt on first use.
func (v *Vault) derivedKey() ([]byte, error) {
	salt, err := os.ReadFile(v.saltFile)
	if err != nil {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("salt generation failed: %w", err)
		}
		if err := os.MkdirAll(v.dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create vault dir: %w", err)
		}
		if err := secureWrite(v.saltFile, salt); err != nil {
			return nil, err
		}
	}
	return pbkdf2.Key([]byte(machinePassword()), salt, kdfIterations, keyLength, sha256.New), nil
}

// machinePassword is derived from host and user identity so the vault file is
// not portable between machines. POWERTRADER_VAULT_KEY overrides it for CI.
func machinePassword() string {
	if key := os.Getenv("POWERTRADER_VAULT_KEY"); key != "" {
		return key
	}
	host, _ := os.Hostname()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	sum := sha256.Sum256([]byte(host + username))
	return hex.EncodeToString(sum[:])[:32]
}

func seal(key, plaintext []byte) (sealedVault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return sealedVault{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return sealedVault{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return sealedVault{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return sealedVault{
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Algorithm: "AES-256-GCM",
	}, nil
}

func openSealed(key []byte, sealed sealedVault) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Data)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func fromEnv(exchange string) Credentials {
	prefix := "POWERTRADER_" + strings.ToUpper(exchange)
	return Credentials{
		APIKey:     strings.TrimSpace(os.Getenv(prefix + "_API_KEY")),
		APISecret:  strings.TrimSpace(os.Getenv(prefix + "_API_SECRET")),
		Passphrase: strings.TrimSpace(os.Getenv(prefix + "_PASSPHRASE")),
	}
}

// migratePlaintext imports legacy <venue>_key.txt / <venue>_secret.txt files
// into the vault and removes them once the encrypted copy is written.
func (v *Vault) migratePlaintext(exchange string) (Credentials, bool) {
	keyFile := filepath.Join(v.dir, strings.ToLower(exchange)+"_key.txt")
	secretFile := filepath.Join(v.dir, strings.ToLower(exchange)+"_secret.txt")

	keyRaw, err := os.ReadFile(keyFile)
	if err != nil {
		return Credentials{}, false
	}
	secretRaw, err := os.ReadFile(secretFile)
	if err != nil {
		return Credentials{}, false
	}

	creds := Credentials{
		APIKey:    strings.TrimSpace(string(keyRaw)),
		APISecret: strings.TrimSpace(string(secretRaw)),
	}
	if creds.Empty() {
		return Credentials{}, false
	}
	if err := v.Store(exchange, creds); err == nil {
		os.Remove(keyFile)
		os.Remove(secretFile)
	}
	return creds, true
}

func secureWrite(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
