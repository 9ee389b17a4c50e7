// Package fetch downloads referenced price files into a per-file working
// directory and unpacks archives.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/model"
)

var (
	// ErrTooLarge is returned when a download or archive entry exceeds MaxBytes.
	ErrTooLarge = errors.New("file exceeds maximum size")
	// ErrUnsafePath is returned for archive entries that escape the extract dir.
	ErrUnsafePath = errors.New("archive entry escapes extraction directory")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Options configures a Fetcher.
type Options struct {
	WorkDir   string
	Timeout   time.Duration // default 30m
	MaxBytes  int64         // default 2 GiB
	UserAgent string
	Client    *http.Client
}

// Fetcher downloads price files.
type Fetcher struct {
	opts   Options
	client *http.Client
	log    zerolog.Logger
}

// New returns a Fetcher writing under opts.WorkDir.
func New(opts Options, log zerolog.Logger) *Fetcher {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 2 << 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mrfsync/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		opts:   opts,
		client: client,
		log:    log.With().Str("component", "fetch").Logger(),
	}
}

// Dir returns the working directory used for one external file id.
func (f *Fetcher) Dir(fileID string) string {
	return filepath.Join(f.opts.WorkDir, "mrfsync-"+safeName(fileID))
}

// Cleanup removes everything Fetch wrote for fileID.
func (f *Fetcher) Cleanup(fileID string) error {
	return os.RemoveAll(f.Dir(fileID))
}

// Fetch downloads ref and returns the local paths to ingest. Zip archives
// yield every regular entry; gzip files yield the decompressed file; other
// files are returned as downloaded.
func (f *Fetcher) Fetch(ctx context.Context, ref model.PriceFileRef) ([]string, error) {
	if strings.TrimSpace(ref.URL) == "" {
		return nil, &apperr.ValidationError{Field: "url", Reason: "file reference has no url"}
	}
	dir := f.Dir(ref.FileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	start := time.Now()
	path, n, err := f.download(ctx, ref, dir)
	if err != nil {
		return nil, err
	}
	f.log.Info().
		Str("file_id", ref.FileID).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("download complete")

	switch kind(ref, path) {
	case "zip":
		return f.extractZip(path, filepath.Join(dir, "extracted"))
	case "gz":
		out, err := f.gunzip(path)
		if err != nil {
			return nil, err
		}
		return []string{out}, nil
	}
	return []string{path}, nil
}

func (f *Fetcher) download(ctx context.Context, ref model.PriceFileRef, dir string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, &apperr.ExternalServiceError{Kind: apperr.KindGeneric, Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &apperr.ExternalServiceError{
			Kind:       apperr.ClassifyStatus(resp.StatusCode),
			Op:         "download",
			StatusCode: resp.StatusCode,
		}
	}
	if resp.ContentLength > f.opts.MaxBytes {
		return "", 0, fmt.Errorf("download %s (%d bytes): %w", ref.FileID, resp.ContentLength, ErrTooLarge)
	}

	path := filepath.Join(dir, localName(ref))
	n, err := writeCapped(path, resp.Body, f.opts.MaxBytes)
	metrics.DownloadBytes.Add(float64(n))
	if err != nil {
		return "", n, fmt.Errorf("download %s: %w", ref.FileID, err)
	}
	return path, n, nil
}

func (f *Fetcher) extractZip(path, dest string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}
	root := filepath.Clean(dest) + string(os.PathSeparator)

	var paths []string
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(dest, entry.Name)
		if !strings.HasPrefix(target, root) {
			return nil, fmt.Errorf("%s: %w", entry.Name, ErrUnsafePath)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create entry dir: %w", err)
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		_, err = writeCapped(target, rc, f.opts.MaxBytes)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		paths = append(paths, target)
	}
	f.log.Info().Str("archive", filepath.Base(path)).Int("entries", len(paths)).Msg("archive extracted")
	return paths, nil
}

func (f *Fetcher) gunzip(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open gzip: %w", err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("read gzip header: %w", err)
	}
	defer gr.Close()

	out := strings.TrimSuffix(path, filepath.Ext(path))
	if _, err := writeCapped(out, gr, f.opts.MaxBytes); err != nil {
		return "", fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// writeCapped copies r to path, failing with ErrTooLarge past max bytes.
func writeCapped(path string, r io.Reader, max int64) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, max+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > max {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return n, err
	}
	return n, nil
}

// kind resolves the container type from the declared suffix, falling back
// to the downloaded file's extension.
func kind(ref model.PriceFileRef, path string) string {
	if ref.IsArchive() {
		return "zip"
	}
	s := model.NormalizeSuffix(ref.Suffix)
	if s == "" {
		s = model.NormalizeSuffix(filepath.Ext(path))
	}
	switch {
	case s == "zip":
		return "zip"
	case s == "gzip", strings.HasSuffix(s, "gz"):
		return "gz"
	}
	return ""
}

// localName derives a safe file name that keeps the declared extension.
func localName(ref model.PriceFileRef) string {
	name := safeName(filepath.Base(strings.TrimSpace(ref.Filename)))
	if name == "" || name == "." || name == "_" {
		name = "file_" + safeName(ref.FileID)
	}
	if suffix := model.NormalizeSuffix(ref.Suffix); suffix != "" && !strings.EqualFold(filepath.Ext(name), "."+suffix) {
		name += "." + suffix
	}
	return name
}

func safeName(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}
