// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package db

import (
	"embed"
	"fmt"
	"sort"
)

// Migrations that run after the mapped tables exist. They must be valid for
// both postgres and sqlite.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

type migration struct {
	name string
	sql  string
}

func loadMigrations() ([]migration, error) {
	files, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	out := make([]migration, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			return nil, fmt.Errorf("migrations directory contains a directory: %s", file.Name())
		}
		content, err := migrationFiles.ReadFile("migrations/" + file.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}
		out = append(out, migration{name: file.Name(), sql: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
