package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

const defaultBinaryName = "ffmpeg"

// AssetSource says where the engine executable comes from. When URL is set
// the executable is downloaded once into CacheDir; otherwise Binary is looked
// up as a path or on $PATH.
type AssetSource struct {
	Binary   string
	URL      string
	CacheDir string
	Client   *http.Client
}

// Resolve returns the path of a runnable engine executable.
func (s AssetSource) Resolve(ctx context.Context) (string, error) {
	if s.URL != "" {
		return s.download(ctx)
	}

	name := s.Binary
	if name == "" {
		name = defaultBinaryName
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrAssetUnavailable, name, err)
	}
	return p, nil
}

func (s AssetSource) download(ctx context.Context) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: bad engine URL", ErrAssetUnavailable)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		name = defaultBinaryName
	}
	cacheDir := s.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "framecut-engine")
	}
	dest := filepath.Join(cacheDir, name)

	if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() && fi.Size() > 0 {
		return dest, nil
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create engine cache: %w", err)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssetUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download returned %s", ErrAssetUnavailable, resp.Status)
	}

	t, err := renameio.TempFile("", dest)
	if err != nil {
		return "", fmt.Errorf("cannot stage engine download: %w", err)
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, resp.Body); err != nil {
		return "", fmt.Errorf("%w: download interrupted: %v", ErrAssetUnavailable, err)
	}
	if err := t.Chmod(0755); err != nil {
		return "", err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("cannot install engine binary: %w", err)
	}
	return dest, nil
}
