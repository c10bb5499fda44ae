package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// IntegrityResult collects the outcome of VerifyIntegrity.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// VerifyIntegrity checks the config file against its .checksums manifest.
// A missing manifest is a warning. A missing entry or a mismatch is an
// error, because Load would refuse the file.
func VerifyIntegrity(configPath string) (*IntegrityResult, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	result := &IntegrityResult{Passed: true}

	dir := filepath.Dir(absPath)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		if errors.Is(err, ErrNoChecksums) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no %s manifest found in %s; run 'commcore config lock' to enable integrity verification", ChecksumFile, dir))
			return result, nil
		}
		return nil, err
	}

	name := filepath.Base(absPath)
	expectedHash, ok := manifest.Hashes[name]
	if !ok {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf("file %s not in %s manifest", name, ChecksumFile))
		return result, nil
	}

	actualHash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, err
	}
	if actualHash != expectedHash {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("hash mismatch for %s (expected %s, got %s)", name, expectedHash, actualHash))
	}

	// entries for files that are gone
	for other := range manifest.Hashes {
		if other == name {
			continue
		}
		if !fileExists(filepath.Join(dir, other)) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s lists %s, which no longer exists", ChecksumFile, other))
		}
	}

	return result, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
