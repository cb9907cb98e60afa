package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/matjam/waypaper/internal/wallpaper"
	"resty.dev/v3"
)

var ErrDaemonNotRunning = errors.New("waypaper daemon is not running")

// Client talks to a running daemon over its control socket. Each request
// uses a fresh connection.
type Client struct {
	socket string
	rc     *resty.Client
}

func NewClient(socket string, timeout time.Duration) *Client {
	rc := resty.NewWithClient(&http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
			DisableKeepAlives: true,
		},
	})

	rc.SetBaseURL("http://waypaper")
	rc.SetHeader("Content-Type", "application/json")
	rc.SetHeader("Accept", "application/json")
	rc.SetHeader("User-Agent", "waypaper")
	rc.SetRetryCount(0)
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}

	return &Client{socket: socket, rc: rc}
}

func (c *Client) Close() error {
	return c.rc.Close()
}

func do[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out envelope[T]
	var fail envelope[json0]

	req := c.rc.R().SetContext(ctx).SetResult(&out).SetError(&fail)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		var zero T
		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, fs.ErrNotExist) {
			return zero, fmt.Errorf("%w (socket %s)", ErrDaemonNotRunning, c.socket)
		}
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() || out.Status == StatusError {
		var zero T
		e := fail.Error
		if e == nil {
			e = out.Error
		}
		if e == nil {
			return zero, wallpaper.Errorf(wallpaper.KindInternal, "%s %s: %s", method, path, resp.Status())
		}
		return zero, &wallpaper.Error{Kind: e.Kind, Message: e.Message}
	}
	return out.Data, nil
}

// json0 discards the data field of an error reply.
type json0 struct{}

func (c *Client) Set(ctx context.Context, path, output string) (wallpaper.SetResult, error) {
	return do[wallpaper.SetResult](ctx, c, http.MethodPost, "/set", SetRequest{Path: path, Output: output})
}

func (c *Client) Get(ctx context.Context) ([]wallpaper.OutputInfo, error) {
	return do[[]wallpaper.OutputInfo](ctx, c, http.MethodGet, "/get", nil)
}

func (c *Client) Status(ctx context.Context) (StatusInfo, error) {
	return do[StatusInfo](ctx, c, http.MethodGet, "/status", nil)
}

func (c *Client) Shutdown(ctx context.Context) error {
	_, err := do[json0](ctx, c, http.MethodPost, "/shutdown", nil)
	return err
}
