package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetSource_LocalPath(t *testing.T) {
	bin := writeFakeEngine(t, "")
	got, err := AssetSource{Binary: bin}.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestAssetSource_LocalMissing(t *testing.T) {
	_, err := AssetSource{Binary: "framecut-no-such-engine"}.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrAssetUnavailable)
}

func TestAssetSource_DownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("#!/bin/sh\necho ffmpeg version remote\n"))
	}))
	defer srv.Close()

	src := AssetSource{URL: srv.URL + "/dist/ffmpeg", CacheDir: t.TempDir()}

	path, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src.CacheDir, "ffmpeg"), path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&0111, "downloaded engine must be executable")

	again, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAssetSource_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	cache := t.TempDir()
	_, err := AssetSource{URL: srv.URL + "/ffmpeg", CacheDir: cache}.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrAssetUnavailable)

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed download must not leave files behind")
}

func TestAssetSource_RejectsNonHTTP(t *testing.T) {
	_, err := AssetSource{URL: "file:///usr/bin/ffmpeg"}.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrAssetUnavailable)
}
