package recorder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/audiolibrelab/mediakit/internal/engine"
	"github.com/audiolibrelab/mediakit/internal/media"
)

// Quality is an encoder quality hint.
type Quality string

const (
	QualityMin    Quality = "min"
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityMax    Quality = "max"
)

var qualities = []Quality{QualityMin, QualityLow, QualityMedium, QualityHigh, QualityMax}

type container struct {
	format  string
	encoder string
}

// containers maps file extensions to a container format and its default encoder.
var containers = map[string]container{
	"aac":  {format: "aac", encoder: "aac"},
	"mp4":  {format: "mp4", encoder: "aac"},
	"m4a":  {format: "mp4", encoder: "aac"},
	"ogg":  {format: "ogg", encoder: "vorbis"},
	"webm": {format: "webm", encoder: "opus"},
	"amr":  {format: "amr", encoder: "amr_nb"},
	"3gp":  {format: "amr", encoder: "amr_nb"},
	"wav":  {format: "wav", encoder: "pcm"},
	"flac": {format: "flac", encoder: "flac"},
}

func formats() []string {
	return lo.Uniq(lo.MapToSlice(containers, func(_ string, c container) string { return c.format }))
}

func defaultEncoder(format string) string {
	c, _ := lo.Find(lo.Values(containers), func(c container) bool { return c.format == format })
	return c.encoder
}

// Options is fixed at construction.
type Options struct {
	Bitrate    int `mapstructure:"bitrate" yaml:"bitrate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`
	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	// Format and Encoder are derived from the file extension when empty.
	Format  string  `mapstructure:"format" yaml:"format"`
	Encoder string  `mapstructure:"encoder" yaml:"encoder"`
	Quality Quality `mapstructure:"quality" yaml:"quality"`
	// AutoDestroy lets the engine release the handle itself on stop.
	AutoDestroy bool `mapstructure:"auto_destroy" yaml:"auto_destroy"`
	// MeteringInterval enables meter events at this period. Zero disables them.
	MeteringInterval time.Duration `mapstructure:"metering_interval" yaml:"metering_interval"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Bitrate:     128000,
		Channels:    2,
		SampleRate:  44100,
		Quality:     QualityMedium,
		AutoDestroy: true,
	}
}

// Validate checks every field.
func (o Options) Validate() error {
	if o.Bitrate <= 0 {
		return fmt.Errorf("bitrate must be > 0, got: %d", o.Bitrate)
	}
	if o.Channels != 1 && o.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got: %d", o.Channels)
	}
	if o.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be > 0, got: %d", o.SampleRate)
	}
	if o.Quality != "" && !lo.Contains(qualities, o.Quality) {
		return fmt.Errorf("quality must be one of %v, got: %s", qualities, o.Quality)
	}
	if o.Format != "" && !lo.Contains(formats(), o.Format) {
		return fmt.Errorf("unsupported format: %s", o.Format)
	}
	if o.MeteringInterval < 0 {
		return fmt.Errorf("metering_interval must be >= 0, got: %s", o.MeteringInterval)
	}
	return nil
}

// resolve fills Format and Encoder from the path's extension.
func (o Options) resolve(path string) (engine.RecorderOptions, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if o.Format == "" {
		c, known := containers[ext]
		if !known {
			return engine.RecorderOptions{}, media.Errorf(media.CodeInvalidPath, "new recorder", "cannot infer a format from %q", path)
		}
		o.Format = c.format
	}
	if o.Encoder == "" {
		o.Encoder = defaultEncoder(o.Format)
	}
	if o.Quality == "" {
		o.Quality = QualityMedium
	}

	return engine.RecorderOptions{
		Bitrate:          o.Bitrate,
		Channels:         o.Channels,
		SampleRate:       o.SampleRate,
		Format:           o.Format,
		Encoder:          o.Encoder,
		Quality:          string(o.Quality),
		AutoDestroy:      o.AutoDestroy,
		MeteringInterval: o.MeteringInterval,
	}, nil
}
