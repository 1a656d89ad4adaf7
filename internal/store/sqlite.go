// Package store is the persisted spatial cache of targets, resources and
// inventory. Every distance is measured from the store's current origin,
// which is passed into each query as bound parameters.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/roman-kulish/ingress-farmbot/internal/geo"
)

var ErrSchemaMissing = errors.New("store schema missing")

// Resolver turns a resource id into its location and amount.
type Resolver interface {
	ResolveResource(id string) (geo.LatLng, int, error)
}

// Cooldowns converts recorded action and burnout times into the instants at
// which a target becomes eligible again.
type Cooldowns struct {
	Action  time.Duration
	Burnout time.Duration
}

// DefaultCooldowns are the game's hack interval and burnout recovery period.
var DefaultCooldowns = Cooldowns{
	Action:  300 * time.Second,
	Burnout: 8 * time.Hour,
}

type Option func(*Store)

// WithCooldowns overrides DefaultCooldowns.
func WithCooldowns(c Cooldowns) Option {
	return func(s *Store) { s.cooldowns = c }
}

// WithClock sets the time source used by eligibility queries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	db *sql.DB

	origin    geo.LatLng
	cooldowns Cooldowns
	now       func() time.Time
}

var registerOnce sync.Once
var registerErr error

// registerFunctions installs distance(lat1, lng1, lat2, lng2) for every
// connection opened by the driver.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction("distance", 4, sqlDistance)
	})
	return registerErr
}

func sqlDistance(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var v [4]float64
	for i, a := range args {
		switch x := a.(type) {
		case float64:
			v[i] = x
		case int64:
			v[i] = float64(x)
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("distance: argument %d has type %T", i, a)
		}
	}
	return int64(geo.Distance(geo.LatLng{Lat: v[0], Lng: v[1]}, geo.LatLng{Lat: v[2], Lng: v[3]})), nil
}

// Open opens the cache at path. A new file is initialized from the SQL
// script at schemaPath; an existing file is reused as is.
func Open(path, schemaPath string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty store path")
	}
	if err := registerFunctions(); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)
	if statErr != nil && !fresh {
		return nil, statErr
	}
	var schema []byte
	if fresh {
		b, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaMissing, err)
		}
		schema = b
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if fresh {
		if err := initSchema(db, string(schema)); err != nil {
			_ = db.Close()
			_ = os.Remove(path)
			return nil, err
		}
	}

	s := &Store{
		db:        db,
		cooldowns: DefaultCooldowns,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// One engine per cache file; the exclusive lock keeps a second one out.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA locking_mode=EXCLUSIVE;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB, script string) error {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	n := 0
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("%w: empty script", ErrSchemaMissing)
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetOrigin rebinds the point every later distance is measured from.
func (s *Store) SetOrigin(loc geo.LatLng) { s.origin = loc }

func (s *Store) Origin() geo.LatLng { return s.origin }

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
