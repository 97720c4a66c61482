package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testState struct {
	Key   []byte
	Epoch uint64
	Name  string
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	in := testState{Key: []byte{1, 2, 3}, Epoch: 42, Name: "pose"}
	require.NoError(t, SaveState(path, &in))

	var out testState
	require.NoError(t, LoadState(path, &out))
	require.Equal(t, in, out)
}

func TestLoadStateMissingFile(t *testing.T) {
	var out testState
	err := LoadState(filepath.Join(t.TempDir(), "missing"), &out)
	require.ErrorIs(t, err, ErrNoState)
}

func TestLoadStateCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff}, 0o600))

	var out testState
	err := LoadState(path, &out)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoState)
}
