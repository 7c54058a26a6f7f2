package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	"github.com/btb-finance/clmm-core/lib/pool"

	"github.com/gagliardetto/solana-go"
)

const snapshotExt = ".bin"

// FileStore keeps one snapshot file per pool in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id solana.PublicKey) string {
	return filepath.Join(s.dir, id.String()+snapshotExt)
}

// Save writes the snapshot next to its final path and renames it into place.
func (s *FileStore) Save(_ context.Context, p *pool.Pool) error {
	data, err := EncodePool(p)
	if err != nil {
		return err
	}
	path := s.path(p.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id solana.PublicKey) (*pool.Pool, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", clmmerr.ErrPoolNotFound, id)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return DecodePool(data)
}

// List returns the ids of all stored pools in name order.
func (s *FileStore) List(_ context.Context) ([]solana.PublicKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), snapshotExt))
	}
	sort.Strings(names)
	ids := make([]solana.PublicKey, 0, len(names))
	for _, name := range names {
		id, err := solana.PublicKeyFromBase58(name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
