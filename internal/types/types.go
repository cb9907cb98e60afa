package types

import "strings"

type DecodeMode string

const (
	DecodeAuto     DecodeMode = "auto"
	DecodeVAAPI    DecodeMode = "vaapi"
	DecodeSoftware DecodeMode = "software"
)

func (m DecodeMode) Valid() bool {
	switch m {
	case DecodeAuto, DecodeVAAPI, DecodeSoftware:
		return true
	}
	return false
}

type WallpaperType string

const (
	WallpaperVideo WallpaperType = "video"
	WallpaperWeb   WallpaperType = "web"
	WallpaperScene WallpaperType = "scene"
)

// ParseWallpaperType normalises the manifest "type" field. Unknown values are
// returned as-is so the caller can report them.
func ParseWallpaperType(s string) WallpaperType {
	return WallpaperType(strings.ToLower(strings.TrimSpace(s)))
}
