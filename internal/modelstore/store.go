// Package modelstore manages on-device model files named v<version>.tflite
// and downloads new versions in the background.
package modelstore

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/ecosort/internal/errors"
)

const (
	filePrefix = "v"
	fileSuffix = ".tflite"
)

// Store is a directory of model files.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The directory is created on first download.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path of version.
func (s *Store) Path(version string) string {
	return filepath.Join(s.dir, filePrefix+version+fileSuffix)
}

// Installed reports whether version is present.
func (s *Store) Installed(version string) bool {
	if ValidateVersion(version) != nil {
		return false
	}
	info, err := os.Stat(s.Path(version))
	return err == nil && info.Mode().IsRegular()
}

// List returns installed versions in ascending order. A missing directory
// yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("modelstore").
			Category(errors.CategoryFileIO).
			Context("dir", s.dir).
			Build()
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if v := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix); v != "" {
			versions = append(versions, v)
		}
	}
	slices.SortFunc(versions, compareVersions)
	return versions, nil
}

// Remove deletes version from the store.
func (s *Store) Remove(version string) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}
	if err := os.Remove(s.Path(version)); err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryNotFound
		}
		return errors.New(err).
			Component("modelstore").
			Category(category).
			Context("version", version).
			Build()
	}
	return nil
}

// ValidateVersion rejects versions that cannot form a plain file name.
func ValidateVersion(version string) error {
	if version == "" || strings.ContainsAny(version, `/\`) || strings.Contains(version, "..") {
		return errors.Newf("invalid model version %q", version).
			Component("modelstore").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// compareVersions orders dotted numeric versions numerically, e.g. 1.10 after 1.9.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := range max(len(pa), len(pb)) {
		var x, y string
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if c := cmp.Compare(len(x), len(y)); c != 0 && isDigits(x) && isDigits(y) {
			return c
		}
		if c := strings.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
