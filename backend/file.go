package backend

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

// fileChunkSize is the read size of the streamed file body.
const fileChunkSize = 8192

type fileHandler struct {
	root     string
	endpoint *config.Endpoint
	opts     Options
}

func newFile(b *config.FileBackend, e *config.Endpoint, o Options) Handler {
	return &fileHandler{root: b.Path, endpoint: e, opts: o}
}

func (h *fileHandler) Handle(req *http.Request) (*http.Response, error) {
	resource := path.Clean("/" + stripPrefix(req.URL.Path, h.endpoint.Prefix))
	name := filepath.Join(h.root, filepath.FromSlash(resource))

	if !strings.HasPrefix(name, filepath.Clean(h.root)+string(filepath.Separator)) {
		return filters.TextResponse(http.StatusNotFound, "Not Found"), nil
	}

	// symlinks are not followed
	fi, err := os.Lstat(name)
	if err != nil || !fi.Mode().IsRegular() {
		if err != nil && !os.IsNotExist(err) {
			h.opts.Log.Debugf("file: stat %s: %v", name, err)
		}

		return filters.TextResponse(http.StatusNotFound, "Not Found"), nil
	}

	f, err := os.Open(name)
	if err != nil {
		return filters.TextResponse(http.StatusNotFound, "Not Found"), nil
	}

	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", filepath.Base(name)))

	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        header,
		Body:          &chunkedReader{f: f},
		ContentLength: -1,
	}, nil
}

// chunkedReader serves the file in fixed-size reads so that the body
// streams in 8KiB chunks regardless of the caller's buffer size.
type chunkedReader struct {
	f *os.File
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > fileChunkSize {
		p = p[:fileChunkSize]
	}

	n, err := r.f.Read(p)
	if err == io.EOF && n > 0 {
		err = nil
	}

	return n, err
}

func (r *chunkedReader) Close() error {
	return r.f.Close()
}
