package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error { return m.Called().Error(0) }
func (m *mockMigrator) Down() error { return m.Called().Error(0) }
func (m *mockMigrator) Steps(n int) error { return m.Called(n).Error(0) }
func (m *mockMigrator) Force(v int) error { return m.Called(v).Error(0) }
func (m *mockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun(t *testing.T) {
	t.Run("up with no change is not an error", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("Up").Return(migrate.ErrNoChange)
		m.On("Version").Return(uint(1), false, nil)

		require.NoError(t, run(m, "up", 0, -1, discardLogger()))
		m.AssertExpectations(t)
	})

	t.Run("steps map to up and down", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("Steps", 2).Return(nil)
		m.On("Steps", -1).Return(nil)
		m.On("Version").Return(uint(0), false, migrate.ErrNilVersion)

		require.NoError(t, run(m, "up", 2, -1, discardLogger()))
		require.NoError(t, run(m, "down", 1, -1, discardLogger()))
		m.AssertExpectations(t)
	})

	t.Run("force needs a version", func(t *testing.T) {
		m := &mockMigrator{}
		assert.Error(t, run(m, "force", 0, -1, discardLogger()))

		m.On("Force", 1).Return(nil)
		m.On("Version").Return(uint(1), false, nil)
		require.NoError(t, run(m, "force", 0, 1, discardLogger()))
	})

	t.Run("failures propagate", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("Down").Return(errors.New("dirty database"))
		assert.EqualError(t, run(m, "down", 0, -1, discardLogger()), "dirty database")
	})

	t.Run("unknown action", func(t *testing.T) {
		assert.Error(t, run(&mockMigrator{}, "sideways", 0, -1, discardLogger()))
	})
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_init_schema.up.sql"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_init_schema.down.sql"), nil, 0o644))

	up, down, err := createMigration(dir, "Add Report Index")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "000002_add_report_index.up.sql"), up)
	assert.Equal(t, filepath.Join(dir, "000002_add_report_index.down.sql"), down)
	assert.FileExists(t, up)
	assert.FileExists(t, down)

	_, _, err = createMigration(dir, "  ")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsExist(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("..", "..", migrationsDir))
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init_schema.up.sql")
	assert.Contains(t, names, "000001_init_schema.down.sql")
}
