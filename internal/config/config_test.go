package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matjam/waypaper/internal/types"
	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/4242")

	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TargetFPS != 30 {
		t.Fatalf("expected target_fps 30, got %d", cfg.TargetFPS)
	}
	if cfg.MaxResolution != (Resolution{Width: 3840, Height: 2160}) {
		t.Fatalf("unexpected max_resolution %v", cfg.MaxResolution)
	}
	if cfg.DecodeMode != types.DecodeAuto {
		t.Fatalf("expected hwdecode auto, got %q", cfg.DecodeMode)
	}
	if cfg.ShutdownGrace != 3*time.Second {
		t.Fatalf("expected 3s grace, got %v", cfg.ShutdownGrace)
	}
	if want := filepath.Join("/run/user/4242", "waypaper.sock"); cfg.Socket != want {
		t.Fatalf("expected socket %q, got %q", want, cfg.Socket)
	}
}

func TestLoad_Overrides(t *testing.T) {
	v := newViper()
	v.Set("socket", "/tmp/custom.sock")
	v.Set("target_fps", 24)
	v.Set("max_resolution", "1920X1080")
	v.Set("hwdecode", "Software")
	v.Set("shutdown_grace", 0.5)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Socket != "/tmp/custom.sock" {
		t.Fatalf("unexpected socket %q", cfg.Socket)
	}
	if cfg.TargetFPS != 24 {
		t.Fatalf("unexpected fps %d", cfg.TargetFPS)
	}
	if cfg.MaxResolution != (Resolution{Width: 1920, Height: 1080}) {
		t.Fatalf("unexpected resolution %v", cfg.MaxResolution)
	}
	if cfg.DecodeMode != types.DecodeSoftware {
		t.Fatalf("unexpected decode mode %q", cfg.DecodeMode)
	}
	if cfg.ShutdownGrace != 500*time.Millisecond {
		t.Fatalf("unexpected grace %v", cfg.ShutdownGrace)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]func(v *viper.Viper){
		"target_fps":     func(v *viper.Viper) { v.Set("target_fps", 0) },
		"max_resolution": func(v *viper.Viper) { v.Set("max_resolution", "huge") },
		"hwdecode":       func(v *viper.Viper) { v.Set("hwdecode", "cuda") },
		"shutdown_grace": func(v *viper.Viper) { v.Set("shutdown_grace", -1) },
	}
	for key, mutate := range cases {
		t.Run(key, func(t *testing.T) {
			v := newViper()
			v.Set("socket", "/tmp/x.sock")
			mutate(v)
			_, err := Load(v)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Key != key {
				t.Fatalf("expected key %q, got %q", key, verr.Key)
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	if _, err := ParseResolution("0x100"); err == nil {
		t.Fatalf("expected error for zero width")
	}
	r, err := ParseResolution(" 2560x1440 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.String() != "2560x1440" {
		t.Fatalf("unexpected %s", r)
	}
}

func TestCanonicalPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := CanonicalPath("~/walls"); got != "/home/tester/walls" {
		t.Fatalf("unexpected %q", got)
	}
	if got := CanonicalPath("~"); got != "/home/tester" {
		t.Fatalf("unexpected %q", got)
	}
	if got := CanonicalPath("/abs"); got != "/abs" {
		t.Fatalf("unexpected %q", got)
	}
}
