package ipc

import (
	"net/http"

	"github.com/matjam/waypaper/internal/wallpaper"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type SetRequest struct {
	Path   string `json:"path"`
	Output string `json:"output,omitempty"`
}

type ErrorBody struct {
	Kind    wallpaper.Kind `json:"kind"`
	Message string         `json:"message"`
}

// Response is the envelope of every reply on the control socket.
type Response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// envelope is Response with a typed payload, used by the client to decode.
type envelope[T any] struct {
	Status string     `json:"status"`
	Data   T          `json:"data"`
	Error  *ErrorBody `json:"error"`
}

type StatusInfo struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message"`
	Version string                   `json:"version"`
	PID     int                      `json:"pid"`
	Socket  string                   `json:"socket"`
	Config  string                   `json:"config"`
	Uptime  string                   `json:"uptime"`
	Desktop *wallpaper.Descriptor    `json:"desktop,omitempty"`
	Outputs []wallpaper.OutputStatus `json:"outputs"`
}

func ok(data any) Response {
	return Response{Status: StatusOK, Data: data}
}

func failure(err error) Response {
	return Response{
		Status: StatusError,
		Error:  &ErrorBody{Kind: wallpaper.KindOf(err), Message: err.Error()},
	}
}

// httpStatus mirrors the error kind in the HTTP status line.
func httpStatus(kind wallpaper.Kind) int {
	switch kind {
	case wallpaper.KindBadRequest:
		return http.StatusBadRequest
	case wallpaper.KindFileNotFound:
		return http.StatusNotFound
	case wallpaper.KindBusy:
		return http.StatusConflict
	case wallpaper.KindUnsupportedWallpaperType, wallpaper.KindInvalidManifest, wallpaper.KindUnsupportedCodec:
		return http.StatusUnprocessableEntity
	case wallpaper.KindOutputUnavailable, wallpaper.KindShuttingDown:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
