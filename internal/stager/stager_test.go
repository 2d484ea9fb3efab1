package stager_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/rocketize/internal/provision"
	"github.com/osbuild/rocketize/internal/stager"
)

const license = "e53e159d00e04f729cc2180cffd1c02e_License1.xml"

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type releaseServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
	// the first n release requests fail with 503
	failRelease int
	files       map[string][]byte
	assetNames  []string
}

func newReleaseServer(t *testing.T) *releaseServer {
	rs := &releaseServer{
		requests: map[string]int{},
		files: map[string][]byte{
			stager.DefaultPackageName: []byte("bundle"),
			license:                   []byte("<License/>"),
			"DesktopAppInstaller_Dependencies.zip": makeZip(t, map[string]string{
				"x64/Microsoft.VCLibs.140.00_14.0.33519.0_x64.appx":     "vclibs",
				"x64/Microsoft.UI.Xaml.2.8_8.2310.30001.0_x64.appx":     "xaml",
				"arm64/Microsoft.UI.Xaml.2.8_8.2310.30001.0_arm64.appx": "xaml",
			}),
		},
	}
	rs.assetNames = []string{stager.DefaultPackageName, license, "DesktopAppInstaller_Dependencies.zip"}

	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.requests[r.URL.Path]++
		count := rs.requests[r.URL.Path]
		rs.mu.Unlock()

		if r.URL.Path == "/releases/latest" {
			if count <= rs.failRelease {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			var release stager.Release
			release.TagName = "v1.9.25200"
			for _, name := range rs.assetNames {
				release.Assets = append(release.Assets, stager.Asset{
					Name:        name,
					DownloadURL: rs.URL + "/download/" + name,
					Size:        int64(len(rs.files[name])),
				})
			}
			_ = json.NewEncoder(w).Encode(release)
			return
		}

		content, ok := rs.files[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(content)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *releaseServer) count(path string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[path]
}

func newStager(t *testing.T, rs *releaseServer, dir string) *stager.Stager {
	logger, _ := logrusTest.NewNullLogger()
	cfg := stager.Config{
		Dir:          dir,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
	if rs != nil {
		cfg.ReleaseURL = rs.URL + "/releases/latest"
	}
	return stager.New(cfg, logger)
}

func TestStage(t *testing.T) {
	rs := newReleaseServer(t)
	dir := filepath.Join(t.TempDir(), "winget")

	pkg, err := newStager(t, rs, dir).Stage(context.Background())
	require.NoError(t, err)

	assert.Equal(t, provision.Package{
		PackagePath:   filepath.Join(dir, stager.DefaultPackageName),
		LicensePath:   filepath.Join(dir, license),
		DependencyDir: filepath.Join(dir, "DesktopAppInstaller_Dependencies", "x64"),
		DependencyExt: ".appx",
		Region:        "all",
	}, pkg)

	deps, err := pkg.Dependencies()
	require.NoError(t, err)
	assert.Len(t, deps, 2)

	content, err := os.ReadFile(pkg.PackagePath)
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(content))

	partials, err := filepath.Glob(filepath.Join(dir, ".*.partial"))
	require.NoError(t, err)
	assert.Empty(t, partials)
}

func TestStageSkipsPresentAssets(t *testing.T) {
	rs := newReleaseServer(t)
	dir := filepath.Join(t.TempDir(), "winget")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stager.DefaultPackageName), []byte("local"), 0600))

	pkg, err := newStager(t, rs, dir).Stage(context.Background())
	require.NoError(t, err)

	assert.Zero(t, rs.count("/download/"+stager.DefaultPackageName))
	assert.Equal(t, 1, rs.count("/download/"+license))
	content, err := os.ReadFile(pkg.PackagePath)
	require.NoError(t, err)
	assert.Equal(t, "local", string(content))

	// a second run downloads nothing
	_, err = newStager(t, rs, dir).Stage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.count("/download/"+license))
	assert.Equal(t, 1, rs.count("/download/DesktopAppInstaller_Dependencies.zip"))
}

func TestStageRetriesRelease(t *testing.T) {
	rs := newReleaseServer(t)
	rs.failRelease = 2

	_, err := newStager(t, rs, t.TempDir()).Stage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rs.count("/releases/latest"))
}

func TestStageGivesUp(t *testing.T) {
	rs := newReleaseServer(t)
	rs.failRelease = 10

	_, err := newStager(t, rs, t.TempDir()).Stage(context.Background())
	assert.ErrorContains(t, err, "cannot fetch release")
	assert.Equal(t, 3, rs.count("/releases/latest"))
}

func TestStageMissingAsset(t *testing.T) {
	rs := newReleaseServer(t)
	delete(rs.files, license)
	dir := t.TempDir()

	_, err := newStager(t, rs, dir).Stage(context.Background())
	assert.ErrorContains(t, err, "cannot download "+license)
	assert.NoFileExists(t, filepath.Join(dir, license))

	partials, err := filepath.Glob(filepath.Join(dir, ".*.partial"))
	require.NoError(t, err)
	assert.Empty(t, partials)
}

func TestStageInvalidAssetName(t *testing.T) {
	rs := newReleaseServer(t)
	rs.assetNames = append(rs.assetNames, "../evil.exe")

	_, err := newStager(t, rs, t.TempDir()).Stage(context.Background())
	assert.ErrorContains(t, err, `invalid asset name "../evil.exe"`)
}

func TestStageOffline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stager.DefaultPackageName), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, license), nil, 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "DesktopAppInstaller_Dependencies", "x64"), 0755))

	logger, _ := logrusTest.NewNullLogger()
	s := stager.New(stager.Config{Dir: dir, Offline: true, ReleaseURL: "http://127.0.0.1:1/unreachable"}, logger)
	pkg, err := s.Stage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, license), pkg.LicensePath)

	require.NoError(t, os.Remove(pkg.PackagePath))
	_, err = s.Stage(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPackageLicense(t *testing.T) {
	dir := t.TempDir()
	s := stager.New(stager.Config{Dir: dir, Offline: true}, nil)

	_, err := s.Package()
	assert.ErrorContains(t, err, "no license file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"+"_License1.xml"), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"+"_License1.xml"), nil, 0600))
	_, err = s.Package()
	assert.ErrorContains(t, err, "more than one license file")
}

func TestExtractStaysInsideDestination(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "deps.zip")
	require.NoError(t, os.WriteFile(archive, makeZip(t, map[string]string{
		"../../evil.txt": "evil",
		"x64/dep.appx":   "dep",
	}), 0600))

	dest, err := stager.Extract(archive)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "deps"), dest)
	assert.FileExists(t, filepath.Join(dest, "evil.txt"))
	assert.FileExists(t, filepath.Join(dest, "x64", "dep.appx"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "evil.txt"))

	// extracting again overwrites
	require.NoError(t, os.WriteFile(filepath.Join(dest, "x64", "dep.appx"), []byte("changed"), 0600))
	_, err = stager.Extract(archive)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dest, "x64", "dep.appx"))
	require.NoError(t, err)
	assert.Equal(t, "dep", string(content))
}

func TestLeveledLoggerPromotesRetries(t *testing.T) {
	logger, hook := logrusTest.NewNullLogger()
	l := stager.NewRHLeveledLogger(logger)

	l.Debug("retrying request", "url", "http://example.com", "remaining", 2)
	l.Debug("performing request", "method", "GET")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, "retrying request", entry.Message)
	assert.Equal(t, 2, entry.Data["remaining"])
}
