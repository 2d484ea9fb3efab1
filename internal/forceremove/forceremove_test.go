package forceremove_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/rocketize/internal/forceremove"
)

func skipIfUnenforced(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
}

func TestRemoveAllPlain(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Edge")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Application"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Application", "msedge.exe"), nil, 0600))

	logger, _ := logrusTest.NewNullLogger()
	r := forceremove.New(logger)
	r.SetUnlocker(func(path string) error {
		t.Errorf("unexpected unlock of %s", path)
		return nil
	})

	require.NoError(t, r.RemoveAll(dir))
	assert.NoDirExists(t, dir)
	// missing paths are fine
	require.NoError(t, r.RemoveAll(dir))
}

func TestRemoveAllUnlocksProtectedDirectory(t *testing.T) {
	skipIfUnenforced(t)

	dir := filepath.Join(t.TempDir(), "EdgeCore")
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.MkdirAll(locked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "msedge.dll"), nil, 0600))
	require.NoError(t, os.Chmod(locked, 0500))

	logger, hook := logrusTest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	var unlocked []string
	r := forceremove.New(logger)
	r.SetUnlocker(func(path string) error {
		unlocked = append(unlocked, path)
		return forceremove.PlatformUnlock(path)
	})

	require.NoError(t, r.RemoveAll(dir))
	assert.NoDirExists(t, dir)
	assert.NotEmpty(t, unlocked)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestRemoveAllGivesUpOnRepeatedFailure(t *testing.T) {
	skipIfUnenforced(t)

	dir := filepath.Join(t.TempDir(), "EdgeCore")
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.MkdirAll(locked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "msedge.dll"), nil, 0600))
	require.NoError(t, os.Chmod(locked, 0500))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	calls := 0
	r := forceremove.New(nil)
	r.SetUnlocker(func(path string) error {
		calls++
		return nil
	})

	err := r.RemoveAll(dir)
	assert.ErrorContains(t, err, "even after taking ownership")
	assert.Equal(t, 1, calls)
}

func TestRemoveAllUnlockFailure(t *testing.T) {
	skipIfUnenforced(t)

	dir := filepath.Join(t.TempDir(), "EdgeCore")
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.MkdirAll(locked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "msedge.dll"), nil, 0600))
	require.NoError(t, os.Chmod(locked, 0500))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	unlockErr := errors.New("access denied")
	r := forceremove.New(nil)
	r.SetUnlocker(func(path string) error {
		return unlockErr
	})

	err := r.RemoveAll(dir)
	assert.ErrorIs(t, err, unlockErr)
}
