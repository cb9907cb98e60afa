package ipc

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/matjam/waypaper"
	"github.com/matjam/waypaper/internal/wallpaper"
)

func reply(c echo.Context, err error) error {
	resp := failure(err)
	return c.JSON(httpStatus(resp.Error.Kind), resp)
}

// GET /status
func (s *Server) statusHandler(c echo.Context) error {
	return c.JSONPretty(http.StatusOK, ok(StatusInfo{
		Status:  StatusOK,
		Message: "waypaper is running",
		Version: strings.Trim(waypaper.Version, "\n\r "),
		PID:     os.Getpid(),
		Socket:  s.socket,
		Config:  s.configFile,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Desktop: s.manager.Desktop(),
		Outputs: s.manager.Status(),
	}), "  ")
}

// GET /get
func (s *Server) getHandler(c echo.Context) error {
	return c.JSONPretty(http.StatusOK, ok(s.manager.Get()), "  ")
}

// POST /set
func (s *Server) setHandler(c echo.Context) error {
	var req SetRequest
	if err := c.Bind(&req); err != nil {
		return reply(c, wallpaper.Errorf(wallpaper.KindBadRequest, "invalid request body"))
	}
	if strings.TrimSpace(req.Path) == "" {
		return reply(c, wallpaper.Errorf(wallpaper.KindBadRequest, "path is required"))
	}

	v, err := s.submit(c.Request().Context(), func(ctx context.Context) (any, error) {
		return s.manager.Set(ctx, req.Path, req.Output)
	})
	if err != nil {
		return reply(c, err)
	}
	return c.JSON(http.StatusOK, ok(v))
}

// POST /shutdown
//
// Done is signalled once the reply has been written, so the client always
// sees the Ok before the daemon goes away.
func (s *Server) shutdownHandler(c echo.Context) error {
	_, err := s.submit(c.Request().Context(), func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout())
		defer cancel()
		return nil, s.manager.Shutdown(ctx)
	})
	if err != nil && wallpaper.KindOf(err) != wallpaper.KindShuttingDown {
		log.Warnf("shutdown finished with errors: %v", err)
	}

	c.Response().After(s.signalDone)
	return c.JSON(http.StatusOK, ok(nil))
}

// errorHandler turns routing and binding failures into BadRequest replies.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		if he.Code >= http.StatusInternalServerError {
			log.Errorf("control request %s %s: %v", c.Request().Method, c.Path(), err)
			_ = c.JSON(http.StatusInternalServerError, failure(wallpaper.Wrap(wallpaper.KindInternal, err, "internal error")))
			return
		}
	}

	if err := reply(c, wallpaper.Errorf(wallpaper.KindBadRequest, "%s", strings.ToLower(msg))); err != nil {
		log.Errorf("writing error reply: %v", err)
	}
}
