package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"
)

const probeTimeout = 30 * time.Second

// MediaInfo is the subset of ffprobe output the media library records.
type MediaInfo struct {
	DurationMs int64
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

// HasVideo reports whether a video stream was found.
func (m *MediaInfo) HasVideo() bool {
	return m.VideoCodec != ""
}

// FFprobe inspects media files with an ffprobe executable.
type FFprobe struct {
	Binary string
}

// Probe runs ffprobe against path.
func (p FFprobe) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	bin := p.Binary
	if bin == "" {
		bin = "ffprobe"
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(out)
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (*MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	info := &MediaInfo{}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width, info.Height = s.Width, s.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		info.DurationMs = int64(math.Round(d * 1000))
	}
	return info, nil
}
