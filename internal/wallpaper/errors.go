package wallpaper

import (
	"errors"
	"fmt"

	"github.com/matjam/waypaper/internal/surface"
)

// Kind classifies a failure so that clients can react to it without parsing
// messages.
type Kind string

const (
	KindBadRequest               Kind = "BadRequest"
	KindUnsupportedWallpaperType Kind = "UnsupportedWallpaperType"
	KindFileNotFound             Kind = "FileNotFound"
	KindInvalidManifest          Kind = "InvalidManifest"
	KindOutputUnavailable        Kind = "OutputUnavailable"
	KindBusy                     Kind = "Busy"
	KindShuttingDown             Kind = "ShuttingDown"
	KindUnsupportedCodec         Kind = "UnsupportedCodec"
	KindDecodeError              Kind = "DecodeError"
	KindHardwareInitFailed       Kind = "HardwareInitFailed"
	KindInternal                 Kind = "Internal"
)

type Category string

const (
	CategoryConfig     Category = "ConfigError"
	CategoryResource   Category = "ResourceError"
	CategoryCapability Category = "CapabilityError"
	CategoryDecode     Category = "DecodeError"
	CategoryProtocol   Category = "ProtocolError"
	CategoryInternal   Category = "InternalError"
)

func (k Kind) Category() Category {
	switch k {
	case KindInvalidManifest, KindUnsupportedWallpaperType, KindUnsupportedCodec:
		return CategoryConfig
	case KindFileNotFound, KindOutputUnavailable, KindBusy, KindShuttingDown:
		return CategoryResource
	case KindHardwareInitFailed:
		return CategoryCapability
	case KindDecodeError:
		return CategoryDecode
	case KindBadRequest:
		return CategoryProtocol
	}
	return CategoryInternal
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: KindBusy}) works through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind carried by err. Errors from the surface layer are
// recognised too; anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, surface.ErrOutputUnavailable) || errors.Is(err, surface.ErrSurfaceLost) {
		return KindOutputUnavailable
	}
	if errors.Is(err, surface.ErrClosed) {
		return KindShuttingDown
	}
	return KindInternal
}
