package artifact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	total    int64
	written  int
	finished bool
}

func (r *recordingReporter) Write(p []byte) (int, error) {
	r.written += len(p)
	return len(p), nil
}

func (r *recordingReporter) Finish() error {
	r.finished = true
	return nil
}

func TestEnsureSkipsExistingFile(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ViaProxy.jar"), []byte("old"), 0o644))

	p := NewProvisioner(srv.Client(), SilentProgress, nil)
	require.NoError(t, p.Ensure(context.Background(), srv.URL+"/ViaProxy.jar", dir, "ViaProxy.jar"))
	require.Zero(t, hits.Load())

	data, err := os.ReadFile(filepath.Join(dir, "ViaProxy.jar"))
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
}

func TestEnsureDownloadsIntoNewDirectory(t *testing.T) {
	payload := make([]byte, 100*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	reporter := &recordingReporter{}
	progress := func(total int64, _ string) ProgressReporter {
		reporter.total = total
		return reporter
	}

	dir := filepath.Join(t.TempDir(), "viabridge", "plugins")
	p := NewProvisioner(srv.Client(), progress, nil)
	require.NoError(t, p.Ensure(context.Background(), srv.URL+"/files/OpenAuthMod.jar", dir, ""))

	data, err := os.ReadFile(filepath.Join(dir, "OpenAuthMod.jar"))
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Equal(t, len(payload), reporter.written)
	require.True(t, reporter.finished)

	// Second call is a no-op.
	require.NoError(t, p.Ensure(context.Background(), srv.URL+"/files/OpenAuthMod.jar", dir, ""))
	require.Equal(t, int32(1), hits.Load())
}

func TestEnsureWithoutContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("part one "))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	defer srv.Close()

	reporter := &recordingReporter{}
	progress := func(total int64, _ string) ProgressReporter {
		reporter.total = total
		return reporter
	}

	dir := t.TempDir()
	p := NewProvisioner(srv.Client(), progress, nil)
	require.NoError(t, p.Ensure(context.Background(), srv.URL+"/a.jar", dir, "a.jar"))
	require.Equal(t, int64(-1), reporter.total)

	data, err := os.ReadFile(filepath.Join(dir, "a.jar"))
	require.NoError(t, err)
	require.Equal(t, "part one part two", string(data))
}

func TestEnsureHTTPErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	err := NewProvisioner(srv.Client(), SilentProgress, nil).Ensure(context.Background(), srv.URL+"/missing.jar", dir, "")
	require.Error(t, err)

	var de *DownloadError
	require.True(t, errors.As(err, &de))
	require.Equal(t, KindTransport, de.Kind)
	require.Equal(t, http.StatusNotFound, de.Status)
	require.False(t, IsStorage(err))

	_, statErr := os.Stat(filepath.Join(dir, "missing.jar"))
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureUnwritableDirectoryIsStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := NewProvisioner(srv.Client(), SilentProgress, nil).Ensure(context.Background(), srv.URL+"/a.jar", filepath.Join(blocker, "sub"), "a.jar")
	require.Error(t, err)
	require.True(t, IsStorage(err))
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	present := NewRecord("https://example.invalid/a.jar", dir, "")
	missing := NewRecord("https://example.invalid/b.jar", dir, "")
	require.NoError(t, os.WriteFile(present.Path, []byte("12345"), 0o644))

	st := Status([]Record{present, missing})
	require.Len(t, st, 2)
	require.True(t, st[0].Present)
	require.Equal(t, int64(5), st[0].Size)
	require.Equal(t, "a.jar", st[0].Name)
	require.False(t, st[1].Present)
}
