package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireLocalDisk(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "journal.db")

	tests := []struct {
		name    string
		probe   fsProbe
		wantErr string
	}{
		{
			name:  "local",
			probe: func(string) (string, error) { return "", nil },
		},
		{
			name:    "network mount",
			probe:   func(string) (string, error) { return "nfs", nil },
			wantErr: "on a nfs mount",
		},
		{
			name:    "probe failure",
			probe:   func(string) (string, error) { return "", errors.New("denied") },
			wantErr: "denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireLocalDisk(dbPath, tt.probe)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireLocalDiskProbesExistingAncestor(t *testing.T) {
	root := t.TempDir()
	var probed string
	err := requireLocalDisk(filepath.Join(root, "a", "b", "journal.db"), func(p string) (string, error) {
		probed = p
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, probed)
}

func TestStatfsProbeTempDirIsLocal(t *testing.T) {
	remote, err := statfsProbe(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, remote)
}
