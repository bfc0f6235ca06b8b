package export

import "strconv"

// Working-storage names for staged inputs.
const (
	InputVideoName = "input.mp4"
	InputAudioName = "audio.mp3"
)

// BuildArgs assembles the engine argument list for one export.
func BuildArgs(opts Options, withAudio bool) []string {
	args := []string{"-i", InputVideoName}
	if withAudio {
		args = append(args, "-i", InputAudioName)
	}

	// Video
	args = append(args,
		"-c:v", opts.Format.VideoCodec(),
		"-b:v", "2M",
		"-preset", "medium",
		"-deadline", "good",
		"-cpu-used", "2",
		"-crf", strconv.Itoa(opts.CRF()),
	)

	// Audio
	args = append(args,
		"-c:a", opts.Format.AudioCodec(),
		"-b:a", "192k",
	)

	// Output
	args = append(args,
		"-s", opts.Resolution,
		"-movflags", "+faststart",
		opts.Format.OutputName(),
	)
	return args
}
