package forceremove_test

import (
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/rocketize/internal/forceremove"
)

func TestPlatformUnlockTakesOwnershipForCurrentUser(t *testing.T) {
	var calls [][]string
	restore := forceremove.MockExecCommand(func(name string, arg ...string) *exec.Cmd {
		calls = append(calls, append([]string{name}, arg...))
		return exec.Command("cmd", "/C", "exit 0")
	})
	defer restore()

	u, err := user.Current()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "msedge.exe")
	require.NoError(t, os.WriteFile(path, nil, 0400))

	require.NoError(t, forceremove.PlatformUnlock(path))
	assert.Equal(t, [][]string{
		{"takeown", "/F", dir},
		{"icacls", dir, "/grant", u.Username + ":F", "/C", "/Q"},
		{"takeown", "/F", path},
		{"icacls", path, "/grant", u.Username + ":F", "/C", "/Q"},
	}, calls)
}
