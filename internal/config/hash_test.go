package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("service:\n  name: x\n"), 0600))

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "extra.yaml"}, true)
	require.NoError(t, err)

	assert.False(t, report.Written)
	require.Len(t, report.Files, 2)
	assert.True(t, report.Files[0].Exists)
	assert.NotEmpty(t, report.Files[0].Hash)
	assert.False(t, report.Files[1].Exists)
	assert.Empty(t, report.Files[1].Hash)

	_, err = os.Stat(filepath.Join(tmpDir, ChecksumFile))
	assert.True(t, os.IsNotExist(err), ".checksums should not be written in dry-run mode")
}

func TestLockWritesManifest(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: x\n"), 0600))

	report, err := Lock(path, false)
	require.NoError(t, err)
	assert.True(t, report.Written)

	manifest, err := LoadChecksums(tmpDir)
	require.NoError(t, err)
	require.Len(t, manifest.Hashes, 1)

	want, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Equal(t, want, manifest.Hashes["config.yaml"])
	assert.NoError(t, VerifyFileHash(path, want))
	assert.Error(t, VerifyFileHash(path, "00"))
}

func TestLoadChecksumsErrors(t *testing.T) {
	tmpDir := t.TempDir()
	_, err := LoadChecksums(tmpDir)
	assert.ErrorIs(t, err, ErrNoChecksums)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ChecksumFile), []byte("version: 2\nhashes: {}\n"), 0600))
	_, err = LoadChecksums(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported checksums version")
}
