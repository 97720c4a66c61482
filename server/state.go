package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/util"
)

const (
	stateFilename = "state.bin"
	// KeyEnvVar holds a base64 encoded ed25519 private key overriding a generated one.
	KeyEnvVar = "POSE_PRIVATE_KEY"
)

var (
	ErrKeyMismatch = errors.New("persisted private key differs from the one in " + KeyEnvVar)
	ErrInvalidKey  = errors.New("invalid private key in " + KeyEnvVar)
)

type state struct {
	PrivKey []byte
}

func saveState(datadir string, s *state) error {
	return util.SaveState(filepath.Join(datadir, stateFilename), s)
}

// loadState reads the node key from datadir. Without persisted state the key
// comes from keyb64 or is generated.
func loadState(ctx context.Context, datadir, keyb64 string) (*state, error) {
	var envKey []byte
	if keyb64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyb64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		if len(key) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(key))
		}
		envKey = key
	}

	logger := logging.FromContext(ctx)
	s := &state{}
	err := util.LoadState(filepath.Join(datadir, stateFilename), s)
	switch {
	case errors.Is(err, util.ErrNoState):
		if envKey != nil {
			logger.Info("using private key from environment")
			s.PrivKey = envKey
			return s, nil
		}
		logger.Info("generating new keys")
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating private key: %w", err)
		}
		s.PrivKey = priv
		return s, nil
	case err != nil:
		return nil, err
	}

	if envKey != nil && !bytes.Equal(envKey, s.PrivKey) {
		return nil, ErrKeyMismatch
	}
	return s, nil
}
