// Package inventory parses the installed package list: UTF-8 text with one
// "<name> <version>" record per line.
package inventory

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

// FormatError reports a non-empty line without a name/version separator.
type FormatError struct {
	Line int
	Text string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("inventory line %d: %q has no space between name and version", e.Line, e.Text)
}

// Parse returns the records in text, in order. Empty lines are skipped.
// The name is everything before the first space and the version is the
// rest of the line. A malformed line fails the whole parse.
func Parse(text string) ([]api.PackageRecord, error) {
	records := []api.PackageRecord{}
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, version, ok := strings.Cut(line, " ")
		if !ok {
			return nil, &FormatError{Line: i + 1, Text: line}
		}
		records = append(records, api.PackageRecord{Name: name, Version: version})
	}
	return records, nil
}

// LoadFile reads and parses the inventory file at path.
func LoadFile(fsys afero.Fs, path string) ([]api.PackageRecord, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	records, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
