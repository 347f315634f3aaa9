// Package migrations embeds the SQL schema applied by storage.Migrate.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// FS holds every *.sql migration.
//
//go:embed *.sql
var FS embed.FS

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Ordered returns the non-empty migrations in lexical file order.
func Ordered() ([]Migration, error) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(FS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	return out, nil
}
