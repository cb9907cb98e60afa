package wallpaper

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/matjam/waypaper/internal/types"
)

// ManifestName is the file describing a wallpaper directory.
const ManifestName = "project.json"

// Descriptor is a loaded wallpaper manifest. File is absolute.
type Descriptor struct {
	Type        types.WallpaperType `json:"type"`
	File        string              `json:"file"`
	Dir         string              `json:"dir"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
}

type manifest struct {
	Type        string   `json:"type"`
	File        string   `json:"file"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// LoadDescriptor reads project.json from dir. It does not check that the
// source file exists; Set does that after the type check.
func LoadDescriptor(dir string) (Descriptor, error) {
	if dir == "" {
		return Descriptor{}, Errorf(KindBadRequest, "no wallpaper path given")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return Descriptor{}, Wrap(KindInternal, err, "resolve %s", dir)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Descriptor{}, Wrap(KindFileNotFound, err, "wallpaper directory %s", abs)
		}
		return Descriptor{}, Wrap(KindInvalidManifest, err, "wallpaper directory %s", abs)
	}
	if !info.IsDir() {
		return Descriptor{}, Errorf(KindInvalidManifest, "%s is not a directory", abs)
	}

	data, err := os.ReadFile(filepath.Join(abs, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Descriptor{}, Wrap(KindFileNotFound, err, "no %s in %s", ManifestName, abs)
		}
		return Descriptor{}, Wrap(KindInvalidManifest, err, "read %s", ManifestName)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Descriptor{}, Wrap(KindInvalidManifest, err, "parse %s", filepath.Join(abs, ManifestName))
	}
	if m.Type == "" {
		return Descriptor{}, Errorf(KindInvalidManifest, "%s: missing type", ManifestName)
	}
	if m.File == "" {
		return Descriptor{}, Errorf(KindInvalidManifest, "%s: missing file", ManifestName)
	}

	file := m.File
	if !filepath.IsAbs(file) {
		file = filepath.Join(abs, file)
	}

	return Descriptor{
		Type:        types.ParseWallpaperType(m.Type),
		File:        filepath.Clean(file),
		Dir:         abs,
		Title:       m.Title,
		Description: m.Description,
		Tags:        m.Tags,
	}, nil
}

// CheckSource reports FileNotFound if the descriptor's media file is missing.
func (d Descriptor) CheckSource() error {
	info, err := os.Stat(d.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Wrap(KindFileNotFound, err, "wallpaper file %s", d.File)
		}
		return Wrap(KindFileNotFound, err, "stat %s", d.File)
	}
	if info.IsDir() {
		return Errorf(KindFileNotFound, "wallpaper file %s is a directory", d.File)
	}
	return nil
}
