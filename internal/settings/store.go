package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"imagebatch/internal/infra"
	"imagebatch/internal/sqlinline"
)

// Store persists one settings document.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// MemoryStore keeps settings for the process lifetime.
type MemoryStore struct {
	mu      sync.RWMutex
	current Settings
}

func NewMemoryStore(initial Settings) *MemoryStore {
	return &MemoryStore{current: initial}
}

func (m *MemoryStore) Load(ctx context.Context) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, nil
}

func (m *MemoryStore) Save(ctx context.Context, s Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}

// DocumentID is the app_settings row the service reads and writes.
const DocumentID = "default"

// PostgresStore keeps the document as JSONB in app_settings. A missing row
// yields the defaults it was built with.
type PostgresStore struct {
	sql      infra.SQLExecutor
	defaults Settings
	id       string
}

func NewPostgresStore(sql infra.SQLExecutor, defaults Settings) *PostgresStore {
	return &PostgresStore{sql: sql, defaults: defaults, id: DocumentID}
}

// EnsureSchema creates the settings table when it does not exist yet.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.sql.Exec(ctx, sqlinline.QEnsureAppSettingsTable); err != nil {
		return fmt.Errorf("settings: ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context) (Settings, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	row := p.sql.QueryRow(ctx, sqlinline.QSelectAppSettings, p.id)
	if err := row.Scan(&raw, &updatedAt); err != nil {
		if infra.IsNoRows(err) {
			return p.defaults, nil
		}
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	var stored Settings
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Settings{}, fmt.Errorf("settings: decode: %w", err)
	}
	// Fields absent from older documents fall back to the defaults.
	return p.defaults.Merge(stored), nil
}

func (p *PostgresStore) Save(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var updatedAt time.Time
	if err := p.sql.QueryRow(ctx, sqlinline.QUpsertAppSettings, p.id, raw).Scan(&updatedAt); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Reset removes the stored document so the defaults apply again.
func (p *PostgresStore) Reset(ctx context.Context) error {
	_, err := p.sql.Exec(ctx, sqlinline.QDeleteAppSettings, p.id)
	return err
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Update loads the current document, merges patch into it and saves the
// result.
func Update(ctx context.Context, store Store, patch Settings) (Settings, error) {
	current, err := store.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := current.Merge(patch)
	if err := store.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}
