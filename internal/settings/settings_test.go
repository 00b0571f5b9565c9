package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagebatch/internal/infra"
	"imagebatch/internal/sqlinline"
)

type stubExecutor struct {
	payload []byte
	err     error
	queries []string
	args    [][]any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return stubRow{payload: s.payload, err: s.err}
}

type stubRow struct {
	payload []byte
	err     error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for _, d := range dest {
		switch ptr := d.(type) {
		case *[]byte:
			*ptr = r.payload
		case *time.Time:
			*ptr = time.Unix(1700000000, 0)
		default:
			return errors.New("invalid dest")
		}
	}
	return nil
}

func sample() Settings {
	return Settings{
		LLM:    LLM{Provider: "openai", APIKey: "sk-llm-1234567890"},
		Image:  Image{Provider: "tuzi", APIKey: "tz-abcdefghij", Model: "gpt-4o-image"},
		Common: Common{BatchSize: 2, Count: 4, Width: 1024, Height: 1024},
	}
}

func TestDefaultsFromConfig(t *testing.T) {
	cfg := &infra.Config{
		LLM:   infra.LLMConfig{Provider: "gemini", APIKey: "g"},
		Image: infra.ImageConfig{Provider: "openai", APIKey: "sk"},
		Batch: infra.BatchConfig{Size: 3, Count: 2, Width: 512, Height: 768},
	}
	s := Defaults(cfg)
	assert.Equal(t, "gemini", s.LLM.Provider)
	assert.Equal(t, "openai", s.Image.Provider)
	assert.Equal(t, Common{BatchSize: 3, Count: 2, Width: 512, Height: 768}, s.Common)

	assert.Equal(t, 2, Defaults(nil).Common.BatchSize)
}

func TestValidate(t *testing.T) {
	require.NoError(t, sample().Validate())

	bad := sample()
	bad.Common.BatchSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)

	bad = sample()
	bad.Image.Provider = "midjourney"
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)

	bad = sample()
	bad.Image.BaseURL = "not a url"
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)

	// Credentials are checked when a batch starts, not here.
	incomplete := sample()
	incomplete.Image.APIKey = ""
	assert.NoError(t, incomplete.Validate())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey("  "))
	assert.Equal(t, "****", MaskKey("short"))
	assert.Equal(t, "****7890", MaskKey("sk-llm-1234567890"))

	masked := sample().Masked()
	assert.Equal(t, "****7890", masked.LLM.APIKey)
	assert.Equal(t, "****ghij", masked.Image.APIKey)
}

func TestMergeKeepsMaskedKeysAndZeroValues(t *testing.T) {
	current := sample()
	patch := current.Masked()
	patch.Image.Provider = "openai"
	patch.Common = Common{BatchSize: 5}

	next := current.Merge(patch)
	assert.Equal(t, "openai", next.Image.Provider)
	assert.Equal(t, "tz-abcdefghij", next.Image.APIKey)
	assert.Equal(t, "sk-llm-1234567890", next.LLM.APIKey)
	assert.Equal(t, Common{BatchSize: 5, Count: 4, Width: 1024, Height: 1024}, next.Common)

	next = current.Merge(Settings{Image: Image{APIKey: "new-key"}})
	assert.Equal(t, "new-key", next.Image.APIKey)
}

func TestBatchConfig(t *testing.T) {
	cfg := sample().BatchConfig()
	assert.Equal(t, "tuzi", cfg.Image.Provider)
	assert.Equal(t, "tz-abcdefghij", cfg.Image.APIKey)
	assert.Equal(t, 2, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Count)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(sample())

	got, err := Update(ctx, store, Settings{Common: Common{Count: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Common.Count)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, loaded)

	_, err = Update(ctx, store, Settings{Common: Common{BatchSize: 99}})
	assert.ErrorIs(t, err, ErrInvalid)
	loaded, _ = store.Load(ctx)
	assert.Equal(t, 2, loaded.Common.BatchSize)
}

func TestPostgresStoreLoadNoRows(t *testing.T) {
	exec := &stubExecutor{err: pgx.ErrNoRows}
	store := NewPostgresStore(exec, sample())

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample(), got)
	require.Len(t, exec.queries, 1)
	assert.Equal(t, sqlinline.QSelectAppSettings, exec.queries[0])
	assert.Equal(t, []any{DocumentID}, exec.args[0])
}

func TestPostgresStoreLoadMergesDefaults(t *testing.T) {
	raw, err := json.Marshal(Settings{Image: Image{Provider: "gemini", APIKey: "g-key"}})
	require.NoError(t, err)
	store := NewPostgresStore(&stubExecutor{payload: raw}, sample())

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gemini", got.Image.Provider)
	assert.Equal(t, "g-key", got.Image.APIKey)
	assert.Equal(t, 1024, got.Common.Width)
}

func TestPostgresStoreLoadError(t *testing.T) {
	store := NewPostgresStore(&stubExecutor{err: errors.New("connection refused")}, sample())
	_, err := store.Load(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestPostgresStoreSave(t *testing.T) {
	exec := &stubExecutor{}
	store := NewPostgresStore(exec, Settings{})

	require.NoError(t, store.Save(context.Background(), sample()))
	require.Len(t, exec.args, 1)
	assert.Equal(t, sqlinline.QUpsertAppSettings, exec.queries[0])
	assert.Equal(t, DocumentID, exec.args[0][0])

	var stored Settings
	require.NoError(t, json.Unmarshal(exec.args[0][1].([]byte), &stored))
	assert.Equal(t, sample(), stored)
}

func TestPostgresStoreSaveRejectsInvalid(t *testing.T) {
	exec := &stubExecutor{}
	store := NewPostgresStore(exec, Settings{})
	bad := sample()
	bad.Common.Width = -1
	assert.ErrorIs(t, store.Save(context.Background(), bad), ErrInvalid)
	assert.Empty(t, exec.queries)
}

func TestPostgresStoreSchemaAndReset(t *testing.T) {
	exec := &stubExecutor{}
	store := NewPostgresStore(exec, Settings{})
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Reset(context.Background()))
	assert.Equal(t, []string{sqlinline.QEnsureAppSettingsTable, sqlinline.QDeleteAppSettings}, exec.queries)
}
