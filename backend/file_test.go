package backend

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycraft/proxycraft/config"
)

func fileFor(t *testing.T, root string) Handler {
	t.Helper()
	return newFile(&config.FileBackend{Path: root, Enabled: true},
		&config.Endpoint{Prefix: "/files"}, Options{})
}

func TestFileStreaming(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("0123456789abcdef"), 1200) // 19200 bytes
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.txt"), content, 0o644))

	h := fileFor(t, root)
	rsp, err := h.Handle(httptest.NewRequest("GET", "/files/data.txt", nil))
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, 200, rsp.StatusCode)
	assert.Equal(t, int64(-1), rsp.ContentLength)
	assert.Equal(t, "attachment; filename=data.txt",
		rsp.Header.Get("Content-Disposition"))

	// chunk count is ceil(N/8192)
	var got []byte
	var chunks int
	buf := make([]byte, 64*1024)
	for {
		n, err := rsp.Body.Read(buf)
		if n > 0 {
			chunks++
			assert.LessOrEqual(t, n, fileChunkSize)
			got = append(got, buf[:n]...)
		}

		if err == io.EOF {
			break
		}

		require.NoError(t, err)
	}

	assert.Equal(t, content, got)
	assert.Equal(t, 3, chunks)
}

func TestFileNotFound(t *testing.T) {
	h := fileFor(t, t.TempDir())
	rsp, err := h.Handle(httptest.NewRequest("GET", "/files/missing.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, rsp.StatusCode)
}

func TestFileRefusesSymlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.txt")))

	h := fileFor(t, root)
	rsp, err := h.Handle(httptest.NewRequest("GET", "/files/link.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, rsp.StatusCode)
}

func TestFileRefusesTraversal(t *testing.T) {
	root := t.TempDir()
	h := fileFor(t, root)

	rsp, err := h.Handle(httptest.NewRequest("GET", "/files/../../etc/passwd", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, rsp.StatusCode)
}
