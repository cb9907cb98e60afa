package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/matjam/waypaper/internal/types"
	"github.com/spf13/viper"
)

const socketName = "waypaper.sock"

// Resolution is a width/height bound such as "3840x2160".
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("resolution %q is not WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolution %q: bad width: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolution %q: bad height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q must be positive", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

type Config struct {
	Socket        string
	Wallpaper     string
	TargetFPS     int
	MaxResolution Resolution
	DecodeMode    types.DecodeMode
	ShutdownGrace time.Duration
	ClientTimeout time.Duration
	Debug         bool
}

type ValidationError struct {
	Key string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SetDefaults registers every key waypaper reads so that AllSettings and
// environment overrides see them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("socket", "")
	v.SetDefault("wallpaper", "")
	v.SetDefault("target_fps", 30)
	v.SetDefault("max_resolution", "3840x2160")
	v.SetDefault("hwdecode", string(types.DecodeAuto))
	v.SetDefault("shutdown_grace", 3)
	v.SetDefault("client_timeout", 30)
	v.SetDefault("debug", false)
}

// Load reads the resolved settings out of v and validates them.
func Load(v *viper.Viper) (Config, error) {
	res, err := ParseResolution(v.GetString("max_resolution"))
	if err != nil {
		return Config{}, &ValidationError{Key: "max_resolution", Err: err}
	}

	socket := v.GetString("socket")
	if socket == "" {
		socket, err = DefaultSocketPath()
		if err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		Socket:        CanonicalPath(socket),
		Wallpaper:     CanonicalPath(v.GetString("wallpaper")),
		TargetFPS:     v.GetInt("target_fps"),
		MaxResolution: res,
		DecodeMode:    types.DecodeMode(strings.ToLower(v.GetString("hwdecode"))),
		ShutdownGrace: time.Duration(v.GetFloat64("shutdown_grace") * float64(time.Second)),
		ClientTimeout: time.Duration(v.GetFloat64("client_timeout") * float64(time.Second)),
		Debug:         v.GetBool("debug"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TargetFPS <= 0 || c.TargetFPS > 240 {
		return &ValidationError{Key: "target_fps", Err: fmt.Errorf("must be between 1 and 240, got %d", c.TargetFPS)}
	}
	if c.MaxResolution.Width <= 0 || c.MaxResolution.Height <= 0 {
		return &ValidationError{Key: "max_resolution", Err: fmt.Errorf("must be positive")}
	}
	if !c.DecodeMode.Valid() {
		return &ValidationError{Key: "hwdecode", Err: fmt.Errorf("must be one of: auto, vaapi, software")}
	}
	if c.ShutdownGrace <= 0 {
		return &ValidationError{Key: "shutdown_grace", Err: fmt.Errorf("must be > 0")}
	}
	if c.ClientTimeout <= 0 {
		return &ValidationError{Key: "client_timeout", Err: fmt.Errorf("must be > 0")}
	}
	if c.Socket == "" {
		return &ValidationError{Key: "socket", Err: fmt.Errorf("must not be empty")}
	}
	return nil
}

// RuntimeDir returns the directory holding the control socket. Priority:
// XDG_RUNTIME_DIR, /run/user/<uid>, os.TempDir().
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	runUser := fmt.Sprintf("/run/user/%d", os.Getuid())
	if info, err := os.Stat(runUser); err == nil && info.IsDir() {
		return runUser
	}
	return os.TempDir()
}

func DefaultSocketPath() (string, error) {
	dir := RuntimeDir()
	if dir == "" {
		return "", fmt.Errorf("no runtime directory for the control socket")
	}
	return filepath.Join(dir, socketName), nil
}

func CanonicalPath(path string) string {
	if path == "" {
		return ""
	}

	if path == "~" {
		return os.Getenv("HOME")
	}

	if strings.HasPrefix(path, "~/") {
		homeDir := os.Getenv("HOME")
		return strings.Replace(path, "~", homeDir, 1)
	}

	return path
}
