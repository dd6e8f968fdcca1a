package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/sendflow/internal/send"
)

const (
	EnvPrivateKey           = "SENDFLOW_PRIVATE_KEY"
	EnvPrivateKeyFile       = "SENDFLOW_PRIVATE_KEY_FILE"
	EnvKeystoreDir          = "SENDFLOW_KEYSTORE_DIR"
	EnvKeystorePassword     = "SENDFLOW_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "SENDFLOW_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"

	defaultPrivateKeyRelativePath = "sendflow/key.hex"
	defaultPrivateKeyHintPath     = "~/.config/" + defaultPrivateKeyRelativePath
)

type Config struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystoreDir          string
	KeystorePassword     string
	KeystorePasswordFile string
}

// Oracle hands out signing material for managed accounts. A single hex key
// serves every account; a keystore directory holds one "<pkh>.json" per account.
type Oracle struct {
	cfg Config
}

func New(cfg Config) *Oracle {
	return &Oracle{cfg: cfg}
}

// NewFromEnv builds an Oracle from SENDFLOW_* variables restricted to source.
// A non-empty privateKeyOverride wins over every other input.
func NewFromEnv(source, privateKeyOverride string) (*Oracle, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		source = KeySourceAuto
	}
	cfg := Config{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		KeystoreDir:          strings.TrimSpace(os.Getenv(EnvKeystoreDir)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = discoverDefaultPrivateKeyFile()
	}

	switch source {
	case KeySourceAuto:
	case KeySourceEnv:
		cfg = Config{PrivateKeyHex: cfg.PrivateKeyHex}
	case KeySourceFile:
		cfg = Config{PrivateKeyFile: cfg.PrivateKeyFile}
	case KeySourceKeystore:
		cfg.PrivateKeyHex = ""
		cfg.PrivateKeyFile = ""
	default:
		return nil, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
	}
	if strings.TrimSpace(privateKeyOverride) != "" {
		cfg = Config{PrivateKeyHex: strings.TrimSpace(privateKeyOverride)}
	}
	return New(cfg), nil
}

// HasKeyMaterial reports whether any key source is configured.
func (o *Oracle) HasKeyMaterial() bool {
	return o != nil && (o.cfg.PrivateKeyHex != "" || o.cfg.PrivateKeyFile != "" || o.cfg.KeystoreDir != "")
}

// GetKeys loads the key for pkh. passphrase, when set, overrides the configured keystore password.
func (o *Oracle) GetKeys(ctx context.Context, passphrase, pkh string) (*send.Keys, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pk, err := o.loadPrivateKey(passphrase, pkh)
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &send.Keys{
		Pkh:        pkh,
		PublicKey:  hexutil.Encode(crypto.CompressPubkey(pub)),
		PrivateKey: pk,
	}, nil
}

func (o *Oracle) loadPrivateKey(passphrase, pkh string) (*ecdsa.PrivateKey, error) {
	cfg := o.cfg
	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		return parseHexKey(cfg.PrivateKeyHex)
	}
	if strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	}
	if strings.TrimSpace(cfg.KeystoreDir) != "" {
		if strings.TrimSpace(pkh) == "" || strings.ContainsAny(pkh, `/\`) {
			return nil, fmt.Errorf("invalid account %q", pkh)
		}
		password := passphrase
		if strings.TrimSpace(password) == "" {
			password = cfg.KeystorePassword
		}
		if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
			buf, err := os.ReadFile(cfg.KeystorePasswordFile)
			if err != nil {
				return nil, fmt.Errorf("read keystore password file: %w", err)
			}
			password = strings.TrimSpace(string(buf))
		}
		if strings.TrimSpace(password) == "" {
			return nil, fmt.Errorf("keystore password is required")
		}
		buf, err := os.ReadFile(filepath.Join(cfg.KeystoreDir, pkh+".json"))
		if err != nil {
			return nil, fmt.Errorf("read keystore file: %w", err)
		}
		key, err := keystore.DecryptKey(buf, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return nil, fmt.Errorf("missing signing key: set %s, %s or %s, or place a key at %s, or pass --private-key", EnvPrivateKey, EnvPrivateKeyFile, EnvKeystoreDir, defaultPrivateKeyHintPath)
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func defaultPrivateKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultPrivateKeyRelativePath)
}

func discoverDefaultPrivateKeyFile() string {
	path := defaultPrivateKeyPath()
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
