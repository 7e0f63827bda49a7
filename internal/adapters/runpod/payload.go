package runpod

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// Target is where a route submits jobs. VariantEndpoint overrides the derived
// "-lora" endpoint for families that switch variants.
type Target struct {
	Endpoint        string
	VariantEndpoint string
}

// Payload is the adapted worker input plus the endpoint and poll policy to use.
type Payload struct {
	Family     Family
	Input      map[string]any
	Endpoint   string
	Policy     PollPolicy
	Warnings   []models.Warning
	ResultKeys []string
}

// BuildPayload adapts req to the family's input schema. It performs no I/O, so
// invalid arguments are reported before anything is submitted.
//
// Composition order: family defaults, computed fields, family overrides,
// typed extra options, unknown extra keys, then reference media.
func BuildPayload(family Family, req GenerationRequest, target Target, defaults PollPolicy) (Payload, error) {
	spec, ok := lookupFamily(family)
	if !ok {
		return Payload{}, invalidArgumentf("unknown model family %q", family)
	}
	if req.Modality != "" && spec.Modality != req.Modality {
		return Payload{}, invalidArgumentf("model family %s does not serve %s requests", family, req.Modality)
	}
	opts, err := DecodeOptions(req.ExtraOptions)
	if err != nil {
		return Payload{}, err
	}

	input := make(map[string]any, len(spec.Defaults)+8)
	for k, v := range spec.Defaults {
		input[k] = v
	}
	var warnings []models.Warning

	if err := applyPrimaryInput(spec, req, input); err != nil {
		return Payload{}, err
	}

	if spec.Size.Mode == sizeNone {
		if strings.TrimSpace(req.Size) != "" {
			warnings = append(warnings, ignoredSetting("size", family))
		}
		if strings.TrimSpace(req.AspectRatio) != "" {
			warnings = append(warnings, ignoredSetting("aspectRatio", family))
		}
	} else if err := spec.Size.resolve(req, opts, input); err != nil {
		return Payload{}, err
	}

	if req.Seed != nil {
		if spec.Uses&featureSeed != 0 {
			input["seed"] = *req.Seed
		} else {
			warnings = append(warnings, ignoredSetting("seed", family))
		}
	}
	if req.DurationSeconds != nil {
		if spec.Uses&featureDuration != 0 {
			input["duration"] = durationValue(*req.DurationSeconds)
		} else {
			warnings = append(warnings, ignoredSetting("durationSeconds", family))
		}
	}
	if req.FPS != nil {
		if spec.Uses&featureFPS != 0 {
			input["fps"] = *req.FPS
		} else {
			warnings = append(warnings, ignoredSetting("fps", family))
		}
	}
	if res := strings.TrimSpace(req.Resolution); res != "" {
		if spec.Uses&featureResolution != 0 {
			input["resolution"] = res
		} else {
			warnings = append(warnings, ignoredSetting("resolution", family))
		}
	}

	if spec.Override != nil {
		if err := spec.Override(req, input); err != nil {
			return Payload{}, err
		}
	}

	opts.apply(input)
	warnings = append(warnings, applyReferences(spec, family, req.ReferenceMedia, opts, input)...)

	endpoint := strings.TrimSpace(target.Endpoint)
	if spec.Variant != nil && opts.HasLoras() && !strings.Contains(strings.ToLower(req.ModelID), spec.Variant.Marker) {
		endpoint = variantEndpoint(target, spec.Variant.Marker)
	}

	return Payload{
		Family:     family,
		Input:      input,
		Endpoint:   endpoint,
		Policy:     opts.PollPolicy(defaults).withDefaults(),
		Warnings:   warnings,
		ResultKeys: spec.resultKeys(),
	}, nil
}

func applyPrimaryInput(spec familySpec, req GenerationRequest, input map[string]any) error {
	switch spec.Modality {
	case ModalityImage, ModalityVideo:
		if strings.TrimSpace(req.Prompt) == "" {
			return invalidArgumentf("prompt is required")
		}
		input["prompt"] = req.Prompt
	case ModalitySpeech:
		if strings.TrimSpace(req.Prompt) == "" {
			return invalidArgumentf("input text is required")
		}
		input["text"] = req.Prompt
		if v := strings.TrimSpace(req.Voice); v != "" {
			input["voice"] = v
		}
		if req.Speed != nil {
			input["speed"] = *req.Speed
		}
		if f := strings.TrimSpace(req.Format); f != "" {
			input["format"] = f
		}
	case ModalityTranscription:
		if req.Audio == nil || req.Audio.empty() {
			return invalidArgumentf("audio input is required")
		}
		if req.Audio.URL != "" {
			input["audio"] = req.Audio.URL
		} else {
			input["audio_base64"] = base64.StdEncoding.EncodeToString(req.Audio.Data)
		}
		if p := strings.TrimSpace(req.Prompt); p != "" {
			input["initial_prompt"] = p
		}
		if lang := strings.TrimSpace(req.Language); lang != "" {
			input["language"] = lang
		}
	}
	return nil
}

// applyReferences writes reference media last so it overrides any image or
// images value supplied through extra options.
func applyReferences(spec familySpec, family Family, refs []MediaReference, opts Options, input map[string]any) []models.Warning {
	values := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.empty() {
			continue
		}
		values = append(values, ref.Value())
	}

	if len(values) == 0 {
		applyLegacyImages(spec.Reference, opts, input)
		return nil
	}

	var warnings []models.Warning
	mode := spec.Reference
	if mode == refAuto {
		if len(values) == 1 {
			mode = refSingle
		} else {
			mode = refMulti
		}
	}
	switch mode {
	case refSingle:
		input["image"] = values[0]
		delete(input, "images")
		if len(values) > 1 {
			warnings = append(warnings, models.Warning{
				Type:    models.WarningOther,
				Feature: "referenceMedia",
				Details: "model family " + string(family) + " accepts one reference image; only the first was used",
			})
		}
	case refMulti:
		input["images"] = values
		delete(input, "image")
	default:
		warnings = append(warnings, ignoredSetting("referenceMedia", family))
	}
	return warnings
}

func applyLegacyImages(mode referenceMode, opts Options, input map[string]any) {
	legacy := make([]string, 0, len(opts.Images)+1)
	if opts.Image != nil && *opts.Image != "" {
		legacy = append(legacy, *opts.Image)
	}
	legacy = append(legacy, opts.Images...)
	if len(legacy) == 0 {
		return
	}
	switch mode {
	case refSingle:
		input["image"] = legacy[0]
	case refMulti:
		input["images"] = legacy
	default:
		if opts.Image != nil {
			input["image"] = *opts.Image
		}
		if len(opts.Images) > 0 {
			input["images"] = opts.Images
		}
	}
}

func variantEndpoint(target Target, marker string) string {
	if v := strings.TrimSpace(target.VariantEndpoint); v != "" {
		return v
	}
	endpoint := strings.TrimRight(strings.TrimSpace(target.Endpoint), "/")
	base := baseURL(endpoint)
	suffix := strings.TrimPrefix(endpoint, base)
	if strings.HasSuffix(strings.ToLower(base), "-"+marker) {
		return endpoint
	}
	return base + "-" + marker + suffix
}

func ignoredSetting(feature string, family Family) models.Warning {
	return models.Warning{
		Type:    models.WarningUnsupportedSetting,
		Feature: feature,
		Details: "not supported by model family " + string(family) + "; ignored",
	}
}

func durationValue(d float64) any {
	if d == math.Trunc(d) {
		return int(d)
	}
	return d
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}
