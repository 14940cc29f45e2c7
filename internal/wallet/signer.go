package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

const (
	EnvPrivateKey           = "RWA_PRIVATE_KEY"
	EnvPrivateKeyFile       = "RWA_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "RWA_KEYSTORE_PATH"
	EnvKeystorePassword     = "RWA_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "RWA_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"
)

// Signer signs transactions for one account. Key custody stays outside the
// orchestrator; this is only the local adapter.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, clierr.New(clierr.CodeSigner, "local signer has no key")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// keyLoader returns a key, or nil when its source is not configured.
type keyLoader func() (*ecdsa.PrivateKey, error)

// NewLocalSignerFromEnv loads the owner key from the RWA_* environment.
// source narrows the lookup to one kind of key material; auto tries the
// hex key, then the key file (default $XDG_CONFIG_HOME/rwa/key.hex), then
// the keystore.
func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	var loaders []keyLoader
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
		loaders = []keyLoader{hexFromEnv, keyFileFromEnv, keystoreFromEnv}
	case KeySourceEnv:
		loaders = []keyLoader{hexFromEnv}
	case KeySourceFile:
		loaders = []keyLoader{keyFileFromEnv}
	case KeySourceKeystore:
		loaders = []keyLoader{keystoreFromEnv}
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported key source %q (expected %s, %s, %s or %s)",
			source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore))
	}
	for _, load := range loaders {
		key, err := load()
		if err != nil {
			return nil, err
		}
		if key != nil {
			return fromKey(key), nil
		}
	}
	return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("no signing key found for source %q: set %s, %s or %s",
		source, EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath))
}

// NewLocalSignerFromHex builds a signer from a hex private key, with or
// without the 0x prefix.
func NewLocalSignerFromHex(raw string) (*LocalSigner, error) {
	key, err := parseHexKey(raw)
	if err != nil {
		return nil, err
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func hexFromEnv() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(os.Getenv(EnvPrivateKey))
	if raw == "" {
		return nil, nil
	}
	return parseHexKey(raw)
}

func keyFileFromEnv() (*ecdsa.PrivateKey, error) {
	path := strings.TrimSpace(os.Getenv(EnvPrivateKeyFile))
	if path == "" {
		path = defaultKeyFile()
	}
	if path == "" {
		return nil, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "read private key file", err)
	}
	return parseHexKey(string(buf))
}

func keystoreFromEnv() (*ecdsa.PrivateKey, error) {
	path := strings.TrimSpace(os.Getenv(EnvKeystorePath))
	if path == "" {
		return nil, nil
	}
	password, err := keystorePassword()
	if err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "read keystore file", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "decrypt keystore", err)
	}
	return key.PrivateKey, nil
}

func keystorePassword() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvKeystorePassword)); v != "" {
		return v, nil
	}
	if path := strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)); path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return "", clierr.Wrap(clierr.CodeSigner, "read keystore password file", err)
		}
		if v := strings.TrimSpace(string(buf)); v != "" {
			return v, nil
		}
	}
	return "", clierr.New(clierr.CodeSigner, fmt.Sprintf("keystore password is required (%s or %s)", EnvKeystorePassword, EnvKeystorePasswordFile))
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, clierr.New(clierr.CodeSigner, "private key is empty")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		// The key itself never goes into the message.
		return nil, clierr.New(clierr.CodeSigner, "private key is not a valid secp256k1 hex key")
	}
	return key, nil
}

// defaultKeyFile is $XDG_CONFIG_HOME/rwa/key.hex when it exists.
func defaultKeyFile() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, "rwa", "key.hex")
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}
