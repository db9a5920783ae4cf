package camera

import "log/slog"

// commonResolutions lists width/height pairs the last-resort inference
// heuristic checks against, in order of preference.
var commonResolutions = []struct{ w, h int }{
	{1920, 1080},
	{1280, 720},
	{640, 480},
	{320, 240},
}

// InferDimensions implements spec.md §9's "Frame dimension inference" design
// note: prefer authoritative metadata from the capture source, fall back to
// an explicit configuration value, and only as a last resort attempt to
// back-compute width/height from buffer length against common resolutions —
// logging prominently when that heuristic is used, since it is a guess.
func InferDimensions(log *slog.Logger, bufLen int, format PixelFormat, configuredW, configuredH int) (int, int, bool) {
	if configuredW > 0 && configuredH > 0 {
		return configuredW, configuredH, true
	}

	bytesPerPixel := 1.5 // YUV420P/NV12 subsampled planes
	for _, res := range commonResolutions {
		expected := int(float64(res.w*res.h) * bytesPerPixel)
		if bufLen == expected {
			if log != nil {
				log.Warn("inferring frame dimensions from buffer length — no authoritative metadata or configured size available",
					"buffer_len", bufLen, "inferred_width", res.w, "inferred_height", res.h)
			}
			return res.w, res.h, true
		}
	}

	if log != nil {
		log.Error("unable to infer frame dimensions", "buffer_len", bufLen)
	}
	return 0, 0, false
}
