package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format is an output container.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// MIME returns the blob type for the container.
func (f Format) MIME() string {
	return "video/" + string(f)
}

// VideoCodec returns the engine encoder for the video track.
func (f Format) VideoCodec() string {
	if f == FormatWebM {
		return "libvpx-vp9"
	}
	return "libx264"
}

// AudioCodec returns the engine encoder for the audio track.
func (f Format) AudioCodec() string {
	if f == FormatWebM {
		return "libvorbis"
	}
	return "aac"
}

// OutputName is the working-storage name the engine writes to.
func (f Format) OutputName() string {
	return "output." + string(f)
}

// Formats lists the supported containers.
var Formats = []Format{FormatMP4, FormatWebM}

// Resolutions lists the supported output frame sizes.
var Resolutions = []string{"1920x1080", "1280x720", "854x480"}

const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 80
)

// Options describes one export.
type Options struct {
	Resolution string `json:"resolution"`
	Format     Format `json:"format"`
	Quality    int    `json:"quality"`
}

// DefaultOptions mirrors the editor's download dialog defaults.
func DefaultOptions() Options {
	return Options{Resolution: "1920x1080", Format: FormatMP4, Quality: DefaultQuality}
}

// Validate checks the options against the supported values.
func (o Options) Validate() error {
	if !isSupportedResolution(o.Resolution) {
		return fmt.Errorf("%w: resolution %q must be one of %s",
			ErrInvalidOptions, o.Resolution, strings.Join(Resolutions, ", "))
	}
	if o.Format != FormatMP4 && o.Format != FormatWebM {
		return fmt.Errorf("%w: format %q must be mp4 or webm", ErrInvalidOptions, o.Format)
	}
	if o.Quality < MinQuality || o.Quality > MaxQuality {
		return fmt.Errorf("%w: quality %d must be between %d and %d",
			ErrInvalidOptions, o.Quality, MinQuality, MaxQuality)
	}
	return nil
}

// CRF maps quality 1..100 onto the encoder's constant rate factor (51 worst, 0 best).
func (o Options) CRF() int {
	return int(math.Round(51 - float64(o.Quality)*0.51))
}

// Dimensions parses the resolution into width and height.
func (o Options) Dimensions() (int, int, error) {
	w, h, ok := strings.Cut(o.Resolution, "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrInvalidOptions, o.Resolution)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrInvalidOptions, o.Resolution)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: resolution %q", ErrInvalidOptions, o.Resolution)
	}
	return width, height, nil
}

func isSupportedResolution(r string) bool {
	for _, s := range Resolutions {
		if s == r {
			return true
		}
	}
	return false
}

// ParseFormat accepts a case-insensitive container name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatMP4, FormatWebM:
		return f, nil
	}
	return "", fmt.Errorf("%w: format %q must be mp4 or webm", ErrInvalidOptions, s)
}

// FormatFromMIME reverses Format.MIME.
func FormatFromMIME(mime string) (Format, bool) {
	f := Format(strings.TrimPrefix(mime, "video/"))
	switch f {
	case FormatMP4, FormatWebM:
		return f, true
	}
	return "", false
}
