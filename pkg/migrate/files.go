package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	unsafeRe   = regexp.MustCompile(`[^a-z0-9]+`)
)

const sqlTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named
// <version>_<name>.sql. The version is the current UTC timestamp, bumped past
// the newest file already in dir so two creates in one second never collide.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" || name == "" {
		return "", fmt.Errorf("dir and name are required")
	}
	slug := strings.Trim(unsafeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	versions, err := scanVersions(os.DirFS(dir), ".")
	if err != nil {
		return "", err
	}
	next, _ := strconv.ParseInt(time.Now().UTC().Format(versionLayout), 10, 64)
	if len(versions) > 0 && versions[len(versions)-1] >= next {
		next = versions[len(versions)-1] + 1
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", next, slug))
	file, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, sqlTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

// ValidateDir checks the migrations in a directory on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir), ".")
}

// ValidateFS checks file names, version uniqueness and that every file has
// an Up section ahead of its Down section.
func ValidateFS(fsys fs.FS, dir string) error {
	if _, err := scanVersions(fsys, dir); err != nil {
		return err
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %q: %w", entry.Name(), err)
		}
		up := strings.Index(string(body), "-- +goose Up")
		down := strings.Index(string(body), "-- +goose Down")
		switch {
		case up < 0:
			return fmt.Errorf("migration %q missing \"-- +goose Up\"", entry.Name())
		case down < 0:
			return fmt.Errorf("migration %q missing \"-- +goose Down\"", entry.Name())
		case down < up:
			return fmt.Errorf("migration %q has Down before Up", entry.Name())
		}
	}
	return nil
}

// scanVersions returns the versions of the .sql files in dir in ascending
// order, rejecting malformed names and duplicates.
func scanVersions(fsys fs.FS, dir string) ([]int64, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	seen := make(map[int64]string, len(entries))
	versions := make([]int64, 0, len(entries))
	// fs.ReadDir sorts by name, and the fixed-width prefix makes that version order
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", entry.Name())
		}
		version, _ := strconv.ParseInt(match[1], 10, 64)
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, entry.Name())
		}
		seen[version] = entry.Name()
		versions = append(versions, version)
	}
	return versions, nil
}
