// Package artifact downloads the proxy jar and its plugins into the local
// data directory. A file that already exists is never fetched again.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/events"
)

// Record names a downloadable file and where it lives locally.
type Record struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Path string `json:"path"`
}

// NewRecord builds a record for url stored as destDir/filename. An empty
// filename takes the last path segment of the URL.
func NewRecord(url, destDir, filename string) Record {
	if filename == "" {
		filename = FilenameFromURL(url)
	}
	return Record{
		Name: filename,
		URL:  url,
		Path: filepath.Join(destDir, filename),
	}
}

// FilenameFromURL returns the last path segment of url.
func FilenameFromURL(url string) string {
	return path.Base(url)
}

// Kind separates network failures from local disk failures.
type Kind int

const (
	KindTransport Kind = iota
	KindStorage
)

func (k Kind) String() string {
	if k == KindStorage {
		return "storage"
	}
	return "transport"
}

// DownloadError is returned by Ensure.
type DownloadError struct {
	Kind   Kind
	URL    string
	Path   string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error downloading %s: unexpected status %d", e.Kind, e.URL, e.Status)
	}
	return fmt.Sprintf("%s error downloading %s to %s: %v", e.Kind, e.URL, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsStorage reports whether err is a storage-side DownloadError.
func IsStorage(err error) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Kind == KindStorage
}

// Provisioner fetches artifacts over HTTP.
type Provisioner struct {
	client   *http.Client
	progress ProgressFactory
	eventBus *events.Bus
	logger   zerolog.Logger
}

// NewProvisioner creates a provisioner. A nil client uses a client without
// timeout (artifacts can be large); a nil progress factory draws a terminal
// progress bar.
func NewProvisioner(client *http.Client, progress ProgressFactory, eventBus *events.Bus) *Provisioner {
	if client == nil {
		client = &http.Client{}
	}
	if progress == nil {
		progress = TerminalProgress
	}
	return &Provisioner{
		client:   client,
		progress: progress,
		eventBus: eventBus,
		logger:   log.With().Str("component", "provisioner").Logger(),
	}
}

// Ensure makes sure destDir/filename exists, downloading url if it does not.
func (p *Provisioner) Ensure(ctx context.Context, url, destDir, filename string) error {
	return p.EnsureRecord(ctx, NewRecord(url, destDir, filename))
}

// EnsureRecord makes sure rec.Path exists. Existence is the only check; the
// content is not verified. A failed download leaves the partial file behind.
func (p *Provisioner) EnsureRecord(ctx context.Context, rec Record) error {
	logger := p.logger.With().Str("artifact", rec.Name).Logger()

	if err := os.MkdirAll(filepath.Dir(rec.Path), 0o755); err != nil {
		return &DownloadError{Kind: KindStorage, URL: rec.URL, Path: rec.Path, Err: err}
	}

	if _, err := os.Stat(rec.Path); err == nil {
		logger.Debug().Str("path", rec.Path).Msg("artifact present")
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return &DownloadError{Kind: KindStorage, URL: rec.URL, Path: rec.Path, Err: err}
	}

	logger.Info().Str("url", rec.URL).Str("path", rec.Path).Msg("downloading artifact")
	start := time.Now()

	n, err := p.download(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Int64("bytes", n).Msg("artifact download failed")
		return err
	}

	logger.Info().
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("artifact downloaded")

	p.eventBus.Emit(ctx, events.Event{
		Type:   events.EventArtifactDownloaded,
		Source: "provisioner",
		Payload: events.ArtifactDownloadedPayload{
			Name:  rec.Name,
			URL:   rec.URL,
			Path:  rec.Path,
			Bytes: n,
		},
	})
	return nil
}

func (p *Provisioner) download(ctx context.Context, rec Record) (int64, error) {
	transportErr := func(err error) error {
		return &DownloadError{Kind: KindTransport, URL: rec.URL, Path: rec.Path, Err: err}
	}
	storageErr := func(err error) error {
		return &DownloadError{Kind: KindStorage, URL: rec.URL, Path: rec.Path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
	if err != nil {
		return 0, transportErr(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, transportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &DownloadError{Kind: KindTransport, URL: rec.URL, Path: rec.Path, Status: resp.StatusCode}
	}

	f, err := os.Create(rec.Path)
	if err != nil {
		return 0, storageErr(err)
	}

	// ContentLength is -1 when the server does not send one; the reporter
	// then shows an open-ended counter.
	bar := p.progress(resp.ContentLength, "downloading "+rec.Name)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		nr, rerr := resp.Body.Read(buf)
		if nr > 0 {
			if _, werr := f.Write(buf[:nr]); werr != nil {
				f.Close()
				return written, storageErr(werr)
			}
			written += int64(nr)
			_, _ = bar.Write(buf[:nr])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return written, transportErr(rerr)
		}
	}
	_ = bar.Finish()

	if err := f.Close(); err != nil {
		return written, storageErr(err)
	}
	return written, nil
}

// RecordStatus is the local state of one record.
type RecordStatus struct {
	Record
	Present bool      `json:"present"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time,omitempty"`
}

// Status stats every record's destination.
func Status(records []Record) []RecordStatus {
	out := make([]RecordStatus, 0, len(records))
	for _, rec := range records {
		st := RecordStatus{Record: rec}
		if info, err := os.Stat(rec.Path); err == nil {
			st.Present = true
			st.Size = info.Size()
			st.ModTime = info.ModTime()
		}
		out = append(out, st)
	}
	return out
}
