package lifecycle

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// FileVersionSource reads the running image hash from a file written at
// boot, such as one exported by the bootloader or the root-of-trust.
type FileVersionSource struct {
	FS   afero.Fs
	Path string
}

// CurrentVersionHash implements VersionSource.
func (s FileVersionSource) CurrentVersionHash() (string, error) {
	fsys := s.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if s.Path == "" {
		return "", fmt.Errorf("running version file is not configured")
	}
	data, err := afero.ReadFile(fsys, s.Path)
	if err != nil {
		return "", fmt.Errorf("read running version: %w", err)
	}
	// Accept "<hash>" as well as "<hash>  <name>" (sha256sum output).
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("running version file %s is empty", s.Path)
	}
	return fields[0], nil
}

// StaticVersion is a fixed running version hash.
type StaticVersion string

// CurrentVersionHash implements VersionSource.
func (s StaticVersion) CurrentVersionHash() (string, error) {
	return string(s), nil
}
