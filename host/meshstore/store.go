package meshstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"stepcore/standalone"
	"stepcore/standalone/leveling"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no profile has the requested name
var ErrNotFound = errors.New("mesh profile not found")

// Profile is a stored mesh with its grid geometry
type Profile struct {
	ID        string
	Name      string
	Grid      standalone.MeshConfig
	Blob      []byte
	ZRange    float64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store keeps named bed meshes in a SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// migrateUp runs every pending migration. The migrate instance is not
// closed since that would close the shared connection.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version
func (s *Store) SchemaVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Save stores mesh under name, replacing any profile with that name. The
// profile keeps its ID across updates.
func (s *Store) Save(ctx context.Context, name string, mesh *leveling.Mesh) (*Profile, error) {
	blob, err := leveling.EncodeMesh(mesh)
	if err != nil {
		return nil, fmt.Errorf("encode mesh %q: %w", name, err)
	}
	now := time.Now()
	grid := mesh.Config()
	p := &Profile{
		ID:        uuid.New().String(),
		Name:      name,
		Grid:      grid,
		Blob:      blob,
		ZRange:    mesh.Stats().Range,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mesh_profiles (
			profile_id, name, min_x, min_y, max_x, max_y,
			count_x, count_y, blob, z_range, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			min_x = excluded.min_x, min_y = excluded.min_y,
			max_x = excluded.max_x, max_y = excluded.max_y,
			count_x = excluded.count_x, count_y = excluded.count_y,
			blob = excluded.blob, z_range = excluded.z_range,
			updated_at = excluded.updated_at`,
		p.ID, name, grid.MinX, grid.MinY, grid.MaxX, grid.MaxY,
		grid.CountX, grid.CountY, blob, p.ZRange, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("save mesh %q: %w", name, err)
	}
	return s.Get(ctx, name)
}

// Get returns the profile stored under name
func (s *Store) Get(ctx context.Context, name string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT profile_id, name, min_x, min_y, max_x, max_y, count_x, count_y,
			blob, z_range, active, created_at, updated_at
		FROM mesh_profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mesh %q: %w", name, err)
	}
	return p, nil
}

// Load decodes the profile stored under name into mesh. The mesh grid must
// match the stored one.
func (s *Store) Load(ctx context.Context, name string, mesh *leveling.Mesh) error {
	p, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if p.Grid != mesh.Config() {
		return fmt.Errorf("load mesh %q: %w", name, leveling.ErrMeshSize)
	}
	if err := leveling.DecodeMesh(p.Blob, mesh); err != nil {
		return fmt.Errorf("load mesh %q: %w", name, err)
	}
	return nil
}

// List returns every profile ordered by name, without blobs
func (s *Store) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id, name, min_x, min_y, max_x, max_y, count_x, count_y,
			NULL, z_range, active, created_at, updated_at
		FROM mesh_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list meshes: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list meshes: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetActive marks name as the profile to load at startup
func (s *Store) SetActive(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE mesh_profiles SET active = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("activate mesh %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE mesh_profiles SET active = 0 WHERE name != ?`, name); err != nil {
		return fmt.Errorf("activate mesh %q: %w", name, err)
	}
	return tx.Commit()
}

// Active returns the profile marked active, or ErrNotFound
func (s *Store) Active(ctx context.Context) (*Profile, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM mesh_profiles WHERE active = 1`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, name)
}

// Delete removes the profile stored under name
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mesh_profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete mesh %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*Profile, error) {
	var (
		p                Profile
		active           int
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Grid.MinX, &p.Grid.MinY, &p.Grid.MaxX, &p.Grid.MaxY,
		&p.Grid.CountX, &p.Grid.CountY, &p.Blob, &p.ZRange, &active, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.Active = active != 0
	p.CreatedAt = time.Unix(0, created)
	p.UpdatedAt = time.Unix(0, updated)
	return &p, nil
}
