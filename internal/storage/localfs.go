package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// fsProbe names the remote filesystem holding path, or returns "" when the
// filesystem is local or cannot be identified.
type fsProbe func(path string) (string, error)

// requireLocalDisk fails when the journal would live on a network mount,
// where SQLite's WAL locking is unreliable. The path need not exist yet; the
// closest existing ancestor is probed instead.
func requireLocalDisk(path string, probe fsProbe) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}
	dir, err := existingAncestor(abs)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}
	remote, err := probe(dir)
	if err != nil {
		return fmt.Errorf("probe filesystem of %q: %w", dir, err)
	}
	if remote != "" {
		return fmt.Errorf("journal path %q is on a %s mount; move journal.path to local disk", path, remote)
	}
	return nil
}

func existingAncestor(p string) (string, error) {
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		up := filepath.Dir(p)
		if up == p {
			return "", fmt.Errorf("no existing ancestor")
		}
		p = up
	}
}
