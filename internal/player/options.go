package player

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/audiolibrelab/mediakit/internal/engine"
)

// Category tells the platform how this player's audio should be mixed.
type Category string

const (
	CategoryPlayback    Category = "playback"
	CategoryAmbient     Category = "ambient"
	CategorySoloAmbient Category = "soloAmbient"
)

var categories = []Category{CategoryPlayback, CategoryAmbient, CategorySoloAmbient}

// Options is fixed at construction.
type Options struct {
	// AutoDestroy releases the native handle when playback stops or ends.
	// The controller re-prepares transparently on the next Play. Default true.
	AutoDestroy bool `mapstructure:"auto_destroy" yaml:"auto_destroy"`
	// ContinuesToPlayInBackground keeps playing when the host goes to the
	// background. Default false.
	ContinuesToPlayInBackground bool `mapstructure:"continues_to_play_in_background" yaml:"continues_to_play_in_background"`
	// Category defaults to CategoryPlayback.
	Category Category `mapstructure:"category" yaml:"category"`
	// MixWithOthers lets other applications keep playing. Default false.
	MixWithOthers bool `mapstructure:"mix_with_others" yaml:"mix_with_others"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		AutoDestroy:                 true,
		ContinuesToPlayInBackground: false,
		Category:                    CategoryPlayback,
		MixWithOthers:               false,
	}
}

// Validate checks every field. An empty category is accepted and means
// CategoryPlayback.
func (o Options) Validate() error {
	if o.Category != "" && !lo.Contains(categories, o.Category) {
		return fmt.Errorf("category must be one of %v, got: %s", categories, o.Category)
	}
	return nil
}

func (o Options) normalized() Options {
	if o.Category == "" {
		o.Category = CategoryPlayback
	}
	return o
}

func (o Options) engine() engine.PlayerOptions {
	return engine.PlayerOptions{
		AutoDestroy:                 o.AutoDestroy,
		ContinuesToPlayInBackground: o.ContinuesToPlayInBackground,
		Category:                    string(o.Category),
		MixWithOthers:               o.MixWithOthers,
	}
}
