package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/creack/pty"

	"github.com/proxycraft/proxycraft/config"
)

type commandHandler struct {
	backend *config.CommandBackend
	timeout time.Duration
	opts    Options
}

func newCommand(b *config.CommandBackend, e *config.Endpoint, o Options) Handler {
	timeout := time.Duration(b.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = e.TimeoutDuration()
	}

	return &commandHandler{backend: b, timeout: timeout, opts: o}
}

// commandLine picks the per-OS override, falling back to the default.
func (h *commandHandler) commandLine() string {
	b := h.backend
	var cmd string
	switch runtime.GOOS {
	case "linux":
		cmd = b.Linux
	case "windows":
		cmd = b.Windows
	case "darwin":
		cmd = b.Darwin
	case "freebsd":
		cmd = b.FreeBSD
	case "openbsd":
		cmd = b.OpenBSD
	case "netbsd":
		cmd = b.NetBSD
	}

	if cmd == "" {
		cmd = b.Default
	}

	return cmd
}

type commandArgs struct {
	Args []string `json:"args"`
}

func (h *commandHandler) Handle(req *http.Request) (*http.Response, error) {
	args := strings.Fields(h.commandLine())
	if len(args) == 0 {
		return nil, ErrNoHandler
	}

	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}

		if len(b) > 0 {
			var extra commandArgs
			if err := json.Unmarshal(b, &extra); err == nil {
				args = append(args, extra.Args...)
			}
		}
	}

	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	// a pty merges stdout and stderr and keeps the child line-buffered
	tty, err := pty.Start(cmd)
	if err != nil {
		cancel()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Subprocess: true, Err: ctx.Err()}
		}

		return nil, fmt.Errorf("starting %s: %w", args[0], err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		defer tty.Close()

		buf := make([]byte, fileChunkSize)
		for {
			n, rerr := tty.Read(buf)
			if n > 0 {
				if _, werr := pw.Write(buf[:n]); werr != nil {
					break
				}
			}

			// the pty read fails once the child exits
			if rerr != nil {
				break
			}
		}

		rc := 0
		if werr := cmd.Wait(); werr != nil {
			rc = -1
			var exit *exec.ExitError
			if errors.As(werr, &exit) {
				rc = exit.ExitCode()
			}
		}

		fmt.Fprintf(pw, "[exit %d]\n", rc)
		pw.Close()
	}()

	header := make(http.Header)
	header.Set("Content-Type", "application/octet-stream")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        header,
		Body:          pr,
		ContentLength: -1,
	}, nil
}
