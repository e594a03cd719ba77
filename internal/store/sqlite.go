package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a build does not exist.
var ErrNotFound = errors.New("build not found")

// Store provides SQLite-backed build history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

const buildColumns = `
	id, build_id, release, version, archive_path, sha256, size, entry_count,
	catalog_count, status, failed_stage, error_message, start_time, end_time
`

// CreateBuild inserts a new Build and sets its ID
func (s *Store) CreateBuild(b *Build) error {
	const query = `
		INSERT INTO builds (
			build_id, release, version, archive_path, sha256, size, entry_count,
			catalog_count, status, failed_stage, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		b.BuildID, b.Release, b.Version, b.ArchivePath, b.SHA256, b.Size, b.EntryCount,
		b.CatalogCount, b.Status, b.FailedStage, b.ErrorMessage, b.StartTime, b.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert build: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	b.ID = id
	return nil
}

// UpdateBuild updates an existing Build by ID
func (s *Store) UpdateBuild(b *Build) error {
	const query = `
		UPDATE builds SET
			release = ?, version = ?, archive_path = ?, sha256 = ?, size = ?,
			entry_count = ?, catalog_count = ?, status = ?, failed_stage = ?,
			error_message = ?, start_time = ?, end_time = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		b.Release, b.Version, b.ArchivePath, b.SHA256, b.Size,
		b.EntryCount, b.CatalogCount, b.Status, b.FailedStage,
		b.ErrorMessage, b.StartTime, b.EndTime, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update build: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, b.ID)
	}

	return nil
}

// GetBuild retrieves a Build by its build ID
func (s *Store) GetBuild(buildID string) (*Build, error) {
	query := "SELECT " + buildColumns + " FROM builds WHERE build_id = ?"

	b, err := scanBuild(s.db.QueryRow(query, buildID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, buildID)
		}
		return nil, fmt.Errorf("failed to query build: %w", err)
	}
	return b, nil
}

// ListBuilds retrieves Builds newest first, optionally filtered by release
func (s *Store) ListBuilds(release string, limit int) ([]Build, error) {
	query := "SELECT " + buildColumns + " FROM builds"
	var args []interface{}

	if release != "" {
		query += " WHERE release = ?"
		args = append(args, release)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	b := &Build{}
	var version, archivePath, sha, failedStage, errMsg sql.NullString
	var endTime sql.NullTime
	err := row.Scan(
		&b.ID, &b.BuildID, &b.Release, &version, &archivePath, &sha, &b.Size,
		&b.EntryCount, &b.CatalogCount, &b.Status, &failedStage, &errMsg,
		&b.StartTime, &endTime,
	)
	if err != nil {
		return nil, err
	}
	b.Version = version.String
	b.ArchivePath = archivePath.String
	b.SHA256 = sha.String
	b.FailedStage = failedStage.String
	b.ErrorMessage = errMsg.String
	b.EndTime = endTime.Time
	return b, nil
}
