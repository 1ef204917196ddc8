package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileEngine loads trace dumps named <txHash>.json from a directory.
// Dumps are parsed on every Open; sessions hold the parsed trace.
type FileEngine struct {
	dir string
	log zerolog.Logger
}

// NewFileEngine creates an engine reading from dir
func NewFileEngine(dir string, log zerolog.Logger) *FileEngine {
	return &FileEngine{dir: dir, log: log}
}

// Open implements Engine
func (e *FileEngine) Open(ctx context.Context, txHash string) (Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := NormalizeHash(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, txHash)
	}

	path := filepath.Join(e.dir, hash+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (looked in %s)", ErrTraceNotFound, hash, e.dir)
		}
		return nil, fmt.Errorf("reading trace dump %s: %w", path, err)
	}

	var data TraceData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing trace dump %s: %w", path, err)
	}
	if data.TransactionHash == "" {
		data.TransactionHash = hash
	}

	t, err := NewStaticTrace(&data)
	if err != nil {
		return nil, err
	}
	if t.TransactionHash() != hash {
		return nil, fmt.Errorf("trace dump %s holds transaction %s", path, t.TransactionHash())
	}

	e.log.Debug().
		Str("tx", hash).
		Int("steps", t.Length()).
		Int("bytes", len(raw)).
		Msg("loaded trace dump")

	return t, nil
}
