package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
)

var fileNamePattern = regexp.MustCompile(`^(\d{3,})_([a-z0-9_]+)\.sql$`)

// Scanner reads migrations from a file system.
type Scanner struct {
	files fs.FS
	dir   string
}

// NewScanner returns a Scanner reading *.sql files from dir within files.
func NewScanner(files fs.FS, dir string) *Scanner {
	if dir == "" {
		dir = "."
	}
	return &Scanner{files: files, dir: dir}
}

// Scan returns all migrations ordered by version.
func (s *Scanner) Scan() ([]Migration, error) {
	entries, err := fs.ReadDir(s.files, s.dir)
	if err != nil {
		return nil, newMigrationError("", s.dir, "read migration directory", err)
	}

	seen := make(map[string]string)
	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		migration, err := s.parse(entry.Name())
		if err != nil {
			return nil, err
		}
		if other, ok := seen[migration.Version]; ok {
			return nil, newMigrationError(migration.Version, migration.FilePath, "scan",
				fmt.Errorf("%w: also defined by %s", ErrDuplicateVersion, other))
		}
		seen[migration.Version] = migration.FilePath
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (s *Scanner) parse(name string) (Migration, error) {
	filePath := path.Join(s.dir, name)
	match := fileNamePattern.FindStringSubmatch(name)
	if match == nil {
		return Migration{}, newMigrationError("", filePath, "parse file name",
			fmt.Errorf("%w: expected {version}_{description}.sql", ErrInvalidMigrationFile))
	}

	content, err := fs.ReadFile(s.files, filePath)
	if err != nil {
		return Migration{}, newMigrationError(match[1], filePath, "read file", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return Migration{}, newMigrationError(match[1], filePath, "read file",
			fmt.Errorf("%w: file is empty", ErrInvalidMigrationFile))
	}

	sum := sha256.Sum256(content)
	return Migration{
		Version:     match[1],
		Description: strings.ReplaceAll(match[2], "_", " "),
		SQL:         string(content),
		FilePath:    filePath,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}
