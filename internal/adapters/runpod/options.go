package runpod

import (
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Lora is a fine-tune adapter applied on top of a base model.
type Lora struct {
	Path  string   `mapstructure:"path" json:"path"`
	Scale *float64 `mapstructure:"scale" json:"scale,omitempty"`
}

// Options is the typed view of a request's extra options. Keys without a
// field land in Extra and are forwarded to the worker verbatim.
type Options struct {
	MaxPollAttempts     *int     `mapstructure:"maxPollAttempts"`
	PollIntervalMillis  *int     `mapstructure:"pollIntervalMillis"`
	NegativePrompt      *string  `mapstructure:"negative_prompt"`
	Seed                *int64   `mapstructure:"seed"`
	EnableSafetyChecker *bool    `mapstructure:"enable_safety_checker"`
	Width               *int     `mapstructure:"width"`
	Height              *int     `mapstructure:"height"`
	Image               *string  `mapstructure:"image"`
	Images              []string `mapstructure:"images"`
	Loras               []Lora   `mapstructure:"loras"`

	Extra map[string]any `mapstructure:",remain"`
}

// DecodeOptions converts an open option bag into Options.
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		DecodeHook:       loraFromStringHook(),
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, invalidArgumentf("invalid extra options: %v", err)
	}
	return opts, nil
}

// PollPolicy overlays the per-call poll overrides on def.
func (o Options) PollPolicy(def PollPolicy) PollPolicy {
	policy := def
	if o.MaxPollAttempts != nil && *o.MaxPollAttempts > 0 {
		policy.MaxAttempts = *o.MaxPollAttempts
	}
	if o.PollIntervalMillis != nil && *o.PollIntervalMillis > 0 {
		policy.Interval = time.Duration(*o.PollIntervalMillis) * time.Millisecond
	}
	return policy
}

// HasLoras reports whether a non-empty adapter list was supplied.
func (o Options) HasLoras() bool {
	for _, l := range o.Loras {
		if l.Path != "" {
			return true
		}
	}
	return false
}

// apply writes the documented payload fields that were set, then spreads the
// unknown keys last. Poll settings and legacy image fields are not written here.
func (o Options) apply(input map[string]any) {
	if o.NegativePrompt != nil {
		input["negative_prompt"] = *o.NegativePrompt
	}
	if o.Seed != nil {
		input["seed"] = *o.Seed
	}
	if o.EnableSafetyChecker != nil {
		input["enable_safety_checker"] = *o.EnableSafetyChecker
	}
	if o.Width != nil {
		input["width"] = *o.Width
	}
	if o.Height != nil {
		input["height"] = *o.Height
	}
	if len(o.Loras) > 0 {
		input["loras"] = o.Loras
	}
	for k, v := range o.Extra {
		if isPollKey(k) {
			continue
		}
		input[k] = v
	}
}

// isPollKey matches the poll settings the way the decoder does, ignoring case,
// so a second spelling of the same key never reaches the worker.
func isPollKey(key string) bool {
	return strings.EqualFold(key, "maxPollAttempts") || strings.EqualFold(key, "pollIntervalMillis")
}

func loraFromStringHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(Lora{}) || from.Kind() != reflect.String {
			return data, nil
		}
		return map[string]any{"path": data}, nil
	}
}
