package filestore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/storage"
	"github.com/jrsteele09/site-attendance/storage/filestore"
	"github.com/stretchr/testify/require"
)

type bookkeeping struct {
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(storage.NamespaceSession, "bookkeeping", bookkeeping{RefreshToken: "r1", ExpiresIn: 3600}))

	var got bookkeeping
	require.NoError(t, s.Get(storage.NamespaceSession, "bookkeeping", &got))
	require.Equal(t, "r1", got.RefreshToken)
	require.Equal(t, int64(3600), got.ExpiresIn)

	t.Run("survives reopen", func(t *testing.T) {
		reopened, err := filestore.New(dir)
		require.NoError(t, err)
		var again bookkeeping
		require.NoError(t, reopened.Get(storage.NamespaceSession, "bookkeeping", &again))
		require.Equal(t, got, again)
	})

	t.Run("missing key", func(t *testing.T) {
		var v bookkeeping
		err := s.Get(storage.NamespaceSession, "nope", &v)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete and clear", func(t *testing.T) {
		require.NoError(t, s.Set(storage.NamespaceAttendance, "w1:2025-01-09", []string{"a"}))
		require.NoError(t, s.Delete(storage.NamespaceAttendance, "w1:2025-01-09"))
		require.NoError(t, s.Delete(storage.NamespaceAttendance, "w1:2025-01-09"))

		require.NoError(t, s.Clear(storage.NamespaceSession))
		var v bookkeeping
		require.ErrorIs(t, s.Get(storage.NamespaceSession, "bookkeeping", &v), storage.ErrNotFound)
	})
}

func TestStore_Sealed(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New(dir, filestore.WithPassphrase("correct horse"))
	require.NoError(t, err)

	require.NoError(t, s.Set(storage.NamespaceSession, "bookkeeping", bookkeeping{RefreshToken: "secret-refresh"}))

	data, err := os.ReadFile(filepath.Join(dir, storage.NamespaceSession+".json"))
	require.NoError(t, err)
	require.False(t, strings.Contains(string(data), "secret-refresh"), "refresh token must not be stored in clear text")

	var got bookkeeping
	require.NoError(t, s.Get(storage.NamespaceSession, "bookkeeping", &got))
	require.Equal(t, "secret-refresh", got.RefreshToken)

	t.Run("wrong passphrase", func(t *testing.T) {
		other, err := filestore.New(dir, filestore.WithPassphrase("wrong"))
		require.NoError(t, err)
		var v bookkeeping
		err = other.Get(storage.NamespaceSession, "bookkeeping", &v)
		require.ErrorIs(t, err, appErrors.ErrStorage)
	})

	t.Run("damaged salt is not replaced", func(t *testing.T) {
		saltPath := filepath.Join(dir, ".salt")
		original, err := os.ReadFile(saltPath)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(saltPath, original[:4], 0o600))

		_, err = filestore.New(dir, filestore.WithPassphrase("correct horse"))
		require.ErrorIs(t, err, appErrors.ErrStorage)
		damaged, err := os.ReadFile(saltPath)
		require.NoError(t, err)
		require.Equal(t, original[:4], damaged)

		require.NoError(t, os.WriteFile(saltPath, original, 0o600))
		restored, err := filestore.New(dir, filestore.WithPassphrase("correct horse"))
		require.NoError(t, err)
		var v bookkeeping
		require.NoError(t, restored.Get(storage.NamespaceSession, "bookkeeping", &v))
		require.Equal(t, "secret-refresh", v.RefreshToken)
	})

	t.Run("no passphrase", func(t *testing.T) {
		plain, err := filestore.New(dir)
		require.NoError(t, err)
		var v bookkeeping
		err = plain.Get(storage.NamespaceSession, "bookkeeping", &v)
		require.ErrorIs(t, err, appErrors.ErrStorage)
	})
}

func TestStore_InvalidNamespace(t *testing.T) {
	s, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	err = s.Set("../escape", "k", 1)
	require.ErrorIs(t, err, appErrors.ErrStorage)
}
