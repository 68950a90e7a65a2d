/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

var seedOrderRe = regexp.MustCompile(`^(\d+)_`)

// SQLSeeder discovers SQL files under a root directory and executes them
// against a handle. Files live in <dir>/common plus an optional
// <dir>/environments/<env>; common runs first, then the environment files,
// each set ordered by a numeric NN_ filename prefix.
type SQLSeeder struct {
	handle      *DB
	dir         string
	environment string
	logger      Logger
}

type seedFile struct {
	Path        string
	Name        string
	Order       int
	Environment string
	ModTime     time.Time
}

// NewSQLSeeder creates a seeder rooted at dir for the given environment.
func NewSQLSeeder(d *DB, dir, environment string) *SQLSeeder {
	if dir == "" {
		dir = "configs/sql"
	}
	return &SQLSeeder{
		handle:      d,
		dir:         dir,
		environment: environment,
		logger:      GetLogger(),
	}
}

// Run executes every discovered seed file inside one transaction, so a
// failing statement leaves the database untouched. Re-runnable seed files
// (INSERT OR IGNORE and friends) make Run idempotent.
func (s *SQLSeeder) Run(ctx context.Context) error {
	files, err := s.Files()
	if err != nil {
		return fmt.Errorf("failed to discover seed files: %w", err)
	}
	if len(files) == 0 {
		s.logger.Info("No seed files found", "dir", s.dir)
		return nil
	}

	s.logger.Info("Seeding database",
		"dir", s.dir,
		"environment", s.environment,
		"files", len(files))

	EnableSQLSilent(true)
	defer EnableSQLSilent(false)

	start := time.Now()
	var totalStatements int
	var totalRows int64

	err = s.handle.Transaction(ctx, func(ctx context.Context, tx bun.IDB) error {
		for _, file := range files {
			statements, err := s.load(file)
			if err != nil {
				return err
			}
			var fileRows int64
			for _, stmt := range statements {
				res, execErr := tx.ExecContext(ctx, stmt)
				if execErr != nil {
					return fmt.Errorf("seed file %s: failed to execute %q: %w", file.Name, stmt, execErr)
				}
				if n, raErr := res.RowsAffected(); raErr == nil {
					fileRows += n
				}
				totalStatements++
			}
			totalRows += fileRows
			s.logger.Debug("Seed file executed",
				"file", file.Name,
				"statements", len(statements),
				"rows_affected", fileRows)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Seeding completed",
		"files", len(files),
		"statements", totalStatements,
		"rows_affected", totalRows,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Files returns the seed files in execution order.
func (s *SQLSeeder) Files() ([]seedFile, error) {
	var files []seedFile

	commonDir := filepath.Join(s.dir, "common")
	if _, err := os.Stat(commonDir); err == nil {
		commonFiles, err := collectSeedFiles(commonDir, "common")
		if err != nil {
			return nil, err
		}
		files = append(files, commonFiles...)
	}

	if s.environment != "" {
		envDir := filepath.Join(s.dir, "environments", s.environment)
		if _, err := os.Stat(envDir); err == nil {
			envFiles, err := collectSeedFiles(envDir, s.environment)
			if err != nil {
				return nil, err
			}
			files = append(files, envFiles...)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Environment != files[j].Environment {
			return files[i].Environment == "common"
		}
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func collectSeedFiles(dir, environment string) ([]seedFile, error) {
	var files []seedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, seedFile{
			Path:        path,
			Name:        d.Name(),
			Order:       parseSeedOrder(d.Name()),
			Environment: environment,
			ModTime:     info.ModTime(),
		})
		return nil
	})
	return files, err
}

func parseSeedOrder(filename string) int {
	matches := seedOrderRe.FindStringSubmatch(filename)
	if len(matches) > 1 {
		var order int
		_, _ = fmt.Sscanf(matches[1], "%d", &order)
		return order
	}
	return 999
}

func (s *SQLSeeder) load(file seedFile) ([]string, error) {
	content, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", file.Name, err)
	}
	return splitSQLStatements(string(content)), nil
}

// splitSQLStatements breaks a script into individual statements on line
// boundaries: blank lines and -- comments are dropped, a trailing semicolon
// ends a statement. Enough for seed scripts; not a SQL parser.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString(" ")

		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}
	if current.Len() > 0 {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// SeedData runs the configured seed directory against this handle. It is a
// no-op when no seed directory is configured.
func (d *DB) SeedData(ctx context.Context) error {
	d.mu.RLock()
	cfg := d.config
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return fmt.Errorf("%w: connect before seeding", ErrNotConnected)
	}
	if cfg == nil || cfg.Seed.Dir == "" {
		return nil
	}
	return NewSQLSeeder(d, cfg.Seed.Dir, cfg.Seed.Environment).Run(ctx)
}
