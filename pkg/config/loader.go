package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Loader resolves table configurations from a directory of JSON files.
type Loader struct {
	Dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// List returns every JSON file in the directory, sorted by name.
func (l *Loader) List() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoConfigFiles, l.Dir)
	}
	sort.Strings(files)
	return files, nil
}

// Find returns the configuration for table. It looks for <dir>/<table>.json
// first and then for any file whose "table" key matches.
func (l *Loader) Find(table string) (*Table, error) {
	direct := filepath.Join(l.Dir, table+".json")
	if _, err := os.Stat(direct); err == nil {
		return Load(direct)
	}

	files, err := l.List()
	if err != nil {
		if errors.Is(err, ErrNoConfigFiles) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return nil, err
	}

	for _, file := range files {
		t, err := Load(file)
		if err != nil {
			// broken siblings do not hide a valid match
			continue
		}
		if t.Table == table {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
}

// LoadAll loads every configuration in the directory. A file that fails to
// load is reported in errs and does not prevent the others from loading.
func (l *Loader) LoadAll() (tables []*Table, errs []error) {
	files, err := l.List()
	if err != nil {
		return nil, []error{err}
	}

	for _, file := range files {
		t, err := Load(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tables = append(tables, t)
	}
	return tables, errs
}
