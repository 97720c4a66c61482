package util

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// ErrNoState is returned by LoadState when the state file does not exist yet.
var ErrNoState = errors.New("state file not found")

// SaveState XDR-encodes v and atomically replaces filename with it.
func SaveState(filename string, v any) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return nil
}

// LoadState decodes the XDR state stored in filename into v.
func LoadState(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNoState, filename)
	case err != nil:
		return fmt.Errorf("loading %s: %w", filename, err)
	}

	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing %s: %w", filename, err)
	}
	return nil
}
