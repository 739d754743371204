package cmd

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/types"
)

const (
	secp256k1 = "secp256k1"

	keyFileCmdFlag      = "key-file"
	defaultKeysFileName = "keys.json"
)

type (
	// Keys are the block signing key of the validator and the key of its peer identity.
	Keys struct {
		SigningPrivateKey *crypto.InMemorySecp256K1Signer
		PeerPrivateKey    p2pcrypto.PrivKey
	}

	keyFile struct {
		SigningPrivateKey key `json:"signing"`
		PeerPrivateKey    key `json:"peer"`
	}

	key struct {
		Algorithm  string      `json:"algorithm"`
		PrivateKey types.Bytes `json:"privateKey"`
	}

	keysConfig struct {
		Base            *baseConfiguration
		KeyFile         string
		ForceGeneration bool
	}

	// keyInfo is the public part of the keys printed by the keys command.
	keyInfo struct {
		Address      types.Bytes `json:"address"`
		GeneratorKey types.Bytes `json:"generatorKey"`
		PeerID       string      `json:"peerId"`
	}
)

func newKeysCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &keysConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "keys",
		Short: "Generates validator keys",
		Long:  `Generates the block signing key and the peer key of a validator, existing keys are loaded unless --force is set. Prints the address, the generator key and the peer ID.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return keysRunFunc(config)
		},
	}
	cmd.Flags().StringVarP(&config.KeyFile, keyFileCmdFlag, "k", "", fmt.Sprintf("path to the keys file (default: $BE_HOME/%s)", defaultKeysFileName))
	cmd.Flags().BoolVarP(&config.ForceGeneration, "force", "f", false, "forces key generation, overwriting existing keys")
	return cmd
}

func keysRunFunc(config *keysConfig) error {
	keys, err := LoadKeys(config.Base.pathInHome(config.KeyFile, defaultKeysFileName), true, config.ForceGeneration)
	if err != nil {
		return err
	}
	info, err := keys.info()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding key info: %w", err)
	}
	consoleWriter.Println(string(out))
	return nil
}

// GenerateKeys generates new signing and peer keys.
func GenerateKeys() (*Keys, error) {
	signingKey, err := crypto.NewInMemorySecp256K1Signer()
	if err != nil {
		return nil, err
	}
	peerKey, _, err := p2pcrypto.GenerateSecp256k1Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keys{SigningPrivateKey: signingKey, PeerPrivateKey: peerKey}, nil
}

// LoadKeys loads keys from file, new keys are generated when file doesn't exist and generate is set or when overwrite is set.
func LoadKeys(file string, generate, overwrite bool) (*Keys, error) {
	_, err := os.Stat(file)
	exists := err == nil

	if (exists && overwrite) || (!exists && generate) {
		keys, err := GenerateKeys()
		if err != nil {
			return nil, fmt.Errorf("generating keys: %w", err)
		}
		if err := keys.WriteTo(file); err != nil {
			return nil, fmt.Errorf("saving keys: %w", err)
		}
		return keys, nil
	}
	if !exists {
		return nil, fmt.Errorf("keys file %s not found", file)
	}

	data, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return nil, fmt.Errorf("reading keys file: %w", err)
	}
	kf := &keyFile{}
	if err := json.Unmarshal(data, kf); err != nil {
		return nil, fmt.Errorf("decoding keys file %s: %w", file, err)
	}
	if kf.SigningPrivateKey.Algorithm != secp256k1 {
		return nil, fmt.Errorf("signing key algorithm %v is not supported", kf.SigningPrivateKey.Algorithm)
	}
	if kf.PeerPrivateKey.Algorithm != secp256k1 {
		return nil, fmt.Errorf("peer key algorithm %v is not supported", kf.PeerPrivateKey.Algorithm)
	}
	signingKey, err := crypto.NewInMemorySecp256K1SignerFromKey(kf.SigningPrivateKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	peerKey, err := p2pcrypto.UnmarshalSecp256k1PrivateKey(kf.PeerPrivateKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer key: %w", err)
	}
	return &Keys{SigningPrivateKey: signingKey, PeerPrivateKey: peerKey}, nil
}

func (k *Keys) WriteTo(file string) error {
	signingKey, err := k.SigningPrivateKey.MarshalPrivateKey()
	if err != nil {
		return err
	}
	peerKey, err := k.PeerPrivateKey.Raw()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(&keyFile{
		SigningPrivateKey: key{Algorithm: secp256k1, PrivateKey: signingKey},
		PeerPrivateKey:    key{Algorithm: secp256k1, PrivateKey: peerKey},
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return err
	}
	return os.WriteFile(file, data, 0600)
}

// GeneratorKey returns the compressed public key of the signing key.
func (k *Keys) GeneratorKey() ([]byte, error) {
	v, err := k.SigningPrivateKey.Verifier()
	if err != nil {
		return nil, err
	}
	return v.MarshalPublicKey()
}

func (k *Keys) PeerID() (peer.ID, error) {
	return peer.IDFromPrivateKey(k.PeerPrivateKey)
}

func (k *Keys) info() (*keyInfo, error) {
	pubKey, err := k.GeneratorKey()
	if err != nil {
		return nil, fmt.Errorf("reading generator key: %w", err)
	}
	id, err := k.PeerID()
	if err != nil {
		return nil, fmt.Errorf("deriving peer ID: %w", err)
	}
	return &keyInfo{
		Address:      crypto.AddressFromPublicKey(pubKey),
		GeneratorKey: pubKey,
		PeerID:       id.String(),
	}, nil
}

// loadKeyFiles loads existing keys files.
func loadKeyFiles(files []string) ([]*Keys, error) {
	if len(files) == 0 {
		return nil, errors.New("no keys files")
	}
	res := make([]*Keys, 0, len(files))
	for _, f := range files {
		k, err := LoadKeys(f, false, false)
		if err != nil {
			return nil, fmt.Errorf("loading keys %s: %w", f, err)
		}
		res = append(res, k)
	}
	return res, nil
}
