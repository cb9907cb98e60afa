package video

import "github.com/matjam/waypaper/internal/config"

// ScaleTarget fits a srcW×srcH stream inside min(max, native) keeping its
// aspect ratio. The result is never larger than the source and has even
// dimensions unless the source is a single pixel wide or high. A zero native
// size means the output size is unknown.
func ScaleTarget(srcW, srcH int, max config.Resolution, nativeW, nativeH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}

	boundW, boundH := max.Width, max.Height
	if nativeW > 0 && (boundW <= 0 || nativeW < boundW) {
		boundW = nativeW
	}
	if nativeH > 0 && (boundH <= 0 || nativeH < boundH) {
		boundH = nativeH
	}

	w, h := srcW, srcH
	if boundW > 0 && boundH > 0 && (srcW > boundW || srcH > boundH) {
		sx := float64(boundW) / float64(srcW)
		sy := float64(boundH) / float64(srcH)
		s := sx
		if sy < s {
			s = sy
		}
		w = int(float64(srcW) * s)
		h = int(float64(srcH) * s)
	}

	return min(even(w), srcW), min(even(h), srcH)
}

func even(n int) int {
	n &^= 1
	if n < 2 {
		return 2
	}
	return n
}
