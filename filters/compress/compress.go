// Package compress applies response compression negotiated against the
// request's Accept-Encoding. The encoding is configured, gzip or brotli,
// and the response is re-streamed through the encoder, so streaming
// responses stay streaming.
package compress

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
	"github.com/proxycraft/proxycraft/logging"
)

var compressibleTypes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"image/svg+xml",
}

type filter struct {
	filters.Noop
	encoding string
	level    int
	minSize  int64
}

// New returns the compression filter, nil when disabled. Unsupported
// encodings fall back to gzip.
func New(c *config.Compression) filters.Filter {
	if c == nil || !c.Enabled {
		return nil
	}

	encoding := c.Type
	if encoding != "br" && encoding != "brotli" && encoding != "gzip" {
		encoding = "gzip"
	}

	if encoding == "brotli" {
		encoding = "br"
	}

	return &filter{
		encoding: encoding,
		level:    c.CompressLevel,
		minSize:  int64(c.MinSize),
	}
}

func acceptsEncoding(accept, encoding string) bool {
	for _, part := range strings.Split(accept, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if name == encoding || name == "*" {
			return true
		}
	}

	return false
}

func compressible(contentType string) bool {
	for _, t := range compressibleTypes {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}

	return false
}

func (f *filter) Response(ctx filters.FilterContext) {
	rsp := ctx.Response()
	if rsp.Header.Get("Content-Encoding") != "" {
		return
	}

	if !compressible(rsp.Header.Get("Content-Type")) {
		return
	}

	if rsp.ContentLength >= 0 && rsp.ContentLength < f.minSize {
		return
	}

	if !acceptsEncoding(ctx.Request().Header.Get("Accept-Encoding"), f.encoding) {
		return
	}

	rsp.Header.Set("Content-Encoding", f.encoding)
	rsp.Header.Add("Vary", "Accept-Encoding")
	rsp.Header.Del("Content-Length")
	rsp.ContentLength = -1

	rsp.Body = f.encode(rsp.Body, ctx.Logger())
}

// encode re-streams body through the configured encoder.
func (f *filter) encode(body io.ReadCloser, log logging.Logger) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()

		var (
			enc io.WriteCloser
			err error
		)

		if f.encoding == "br" {
			enc = brotli.NewWriterLevel(pw, brotliLevel(f.level))
		} else {
			enc, err = gzip.NewWriterLevel(pw, gzipLevel(f.level))
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		_, err = io.Copy(enc, body)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			log.Errorf("compress: %v", err)
		}

		pw.CloseWithError(err)
	}()

	return pr
}

func gzipLevel(l int) int {
	if l < gzip.HuffmanOnly || l > gzip.BestCompression {
		return gzip.BestCompression
	}

	return l
}

func brotliLevel(l int) int {
	if l < brotli.BestSpeed || l > brotli.BestCompression {
		return brotli.BestCompression
	}

	return l
}
