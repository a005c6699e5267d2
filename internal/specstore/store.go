// Package specstore keeps module specifications on the filesystem.
//
// Each module owns one directory under the store root and its specification
// lives at <root>/<module>/spec.md. The agent edits these files directly;
// the loop only reads them back.
package specstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// SpecFile is the file name of a module specification.
const SpecFile = "spec.md"

// maxSpecSize caps a specification read.
const maxSpecSize = 4 * 1024 * 1024

var (
	ErrInvalidModule = errors.New("invalid module name")
	ErrSpecTooLarge  = errors.New("specification too large")
)

var moduleName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateModule reports whether name can be used as a module directory.
func ValidateModule(name string) error {
	if !moduleName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidModule, name)
	}
	return nil
}

// Store reads module specifications under Root.
type Store struct {
	Root string
}

// New returns a store rooted at root.
func New(root string) *Store {
	return &Store{Root: root}
}

// Path returns the specification path for module.
func (s *Store) Path(module string) (string, error) {
	if err := ValidateModule(module); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, module, SpecFile), nil
}

// Load implements workflow.SpecSource. A missing file is not an error.
func (s *Store) Load(ctx context.Context, module string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	path, err := s.Path(module)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxSpecSize {
		return "", false, fmt.Errorf("%w: %s is %d bytes", ErrSpecTooLarge, path, info.Size())
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a validated module name
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), true, nil
}

// Save writes content as the specification of module, creating its
// directory when needed.
func (s *Store) Save(module, content string) error {
	path, err := s.Path(module)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create module dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Modules lists module directories under Root in name order. A missing
// root has no modules.
func (s *Store) Modules() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Root, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && ValidateModule(e.Name()) == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
