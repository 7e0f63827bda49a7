package runpod

import (
	"strings"
)

// Family identifies one upstream input schema.
type Family string

const (
	FamilyQwenImage      Family = "qwen-image"
	FamilySeedream3      Family = "seedream-3"
	FamilySeedream4      Family = "seedream-4"
	FamilyPrunaImage     Family = "p-image"
	FamilyFluxKontext    Family = "flux-kontext"
	FamilyNanoBananaEdit Family = "nano-banana-edit"
	FamilyFlux           Family = "flux"
	FamilyImage          Family = "image"

	FamilyWanVideo      Family = "wan"
	FamilySeedanceVideo Family = "seedance"
	FamilyKlingVideo    Family = "kling"
	FamilyVideo         Family = "video"

	FamilySpeech  Family = "speech"
	FamilyWhisper Family = "whisper"
)

type referenceMode int

const (
	refNone referenceMode = iota
	// refSingle maps the first reference to "image".
	refSingle
	// refMulti maps every reference to "images".
	refMulti
	// refAuto picks "image" or "images" by count.
	refAuto
)

type feature int

const (
	featureSeed feature = 1 << iota
	featureDuration
	featureFPS
	featureResolution
)

// variantRule switches to the augmented endpoint when adapters are supplied.
type variantRule struct {
	Marker string
}

type familySpec struct {
	Modality   Modality
	Size       sizeRule
	Reference  referenceMode
	Variant    *variantRule
	Uses       feature
	Defaults   map[string]any
	Override   func(req GenerationRequest, input map[string]any) error
	ResultKeys []string
}

type familyRule struct {
	modality Modality
	patterns []string
	family   Family
}

// Order matters: the more specific pattern comes first.
var familyRules = []familyRule{
	{ModalityImage, []string{"qwen-image", "qwen_image"}, FamilyQwenImage},
	{ModalityImage, []string{"seedream-4", "seedream4", "seedream-v4"}, FamilySeedream4},
	{ModalityImage, []string{"seedream-3", "seedream3", "seedream-v3"}, FamilySeedream3},
	{ModalityImage, []string{"p-image", "pruna"}, FamilyPrunaImage},
	{ModalityImage, []string{"kontext"}, FamilyFluxKontext},
	{ModalityImage, []string{"nano-banana"}, FamilyNanoBananaEdit},
	{ModalityImage, []string{"flux"}, FamilyFlux},
	{ModalityVideo, []string{"wan-2", "wan2", "wan-i2v", "wan-t2v"}, FamilyWanVideo},
	{ModalityVideo, []string{"seedance"}, FamilySeedanceVideo},
	{ModalityVideo, []string{"kling"}, FamilyKlingVideo},
	{ModalityTranscription, []string{"whisper"}, FamilyWhisper},
}

var fallbackFamilies = map[Modality]Family{
	ModalityImage:         FamilyImage,
	ModalityVideo:         FamilyVideo,
	ModalitySpeech:        FamilySpeech,
	ModalityTranscription: FamilyWhisper,
}

// ResolveFamily matches modelID against the ordered family rules for the
// modality and falls back to the modality's default family.
func ResolveFamily(modality Modality, modelID string) Family {
	id := strings.ToLower(strings.TrimSpace(modelID))
	for _, rule := range familyRules {
		if rule.modality != modality {
			continue
		}
		for _, pattern := range rule.patterns {
			if strings.Contains(id, pattern) {
				return rule.family
			}
		}
	}
	return fallbackFamilies[modality]
}

// ParseFamily validates a family pinned in configuration.
func ParseFamily(name string) (Family, bool) {
	family := Family(strings.ToLower(strings.TrimSpace(name)))
	_, ok := familySpecs[family]
	return family, ok
}

// Modality returns the modality the family serves.
func (f Family) Modality() Modality {
	return familySpecs[f].Modality
}

// Families lists every registered family.
func Families() []Family {
	out := make([]Family, 0, len(familySpecs))
	for _, rule := range familyRules {
		out = append(out, rule.family)
	}
	for _, fam := range []Family{FamilyImage, FamilyVideo, FamilySpeech} {
		out = append(out, fam)
	}
	return out
}

func lookupFamily(f Family) (familySpec, bool) {
	spec, ok := familySpecs[f]
	return spec, ok
}

var commonImageRatios = map[string]string{
	"1:1":  "1024*1024",
	"16:9": "1344*768",
	"9:16": "768*1344",
	"4:3":  "1152*864",
	"3:4":  "864*1152",
	"3:2":  "1216*832",
	"2:3":  "832*1216",
}

var familySpecs = map[Family]familySpec{
	FamilyQwenImage: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1328*1328",
			Allowed: []string{
				"1328*1328", "1664*928", "928*1664", "1472*1140", "1140*1472", "1584*1056", "1056*1584",
			},
			Ratios: map[string]string{
				"1:1":  "1328*1328",
				"16:9": "1664*928",
				"9:16": "928*1664",
				"4:3":  "1472*1140",
				"3:4":  "1140*1472",
				"3:2":  "1584*1056",
				"2:3":  "1056*1584",
			},
		},
		Reference: refNone,
		Uses:      featureSeed,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"seed":                  -1,
			"num_inference_steps":   50,
			"guidance":              4.0,
			"enable_safety_checker": true,
			"output_format":         "png",
		},
	},
	FamilySeedream3: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1024*1024",
			Allowed: []string{
				"1024*1024", "864*1152", "1152*864", "1280*720", "720*1280", "832*1248", "1248*832", "1512*648",
			},
			Ratios: map[string]string{
				"1:1":  "1024*1024",
				"3:4":  "864*1152",
				"4:3":  "1152*864",
				"16:9": "1280*720",
				"9:16": "720*1280",
				"2:3":  "832*1248",
				"3:2":  "1248*832",
				"21:9": "1512*648",
			},
		},
		Reference: refNone,
		Uses:      featureSeed,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"seed":                  -1,
			"guidance":              2.5,
			"enable_safety_checker": true,
		},
	},
	FamilySeedream4: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:      sizePixelBudget,
			Field:     "size",
			Separator: "*",
			Default:   "2048*2048",
			MinPixels: 921600,
			MaxPixels: 16777216,
			Ratios: map[string]string{
				"1:1":  "2048*2048",
				"4:3":  "2304*1728",
				"3:4":  "1728*2304",
				"16:9": "2560*1440",
				"9:16": "1440*2560",
				"3:2":  "2496*1664",
				"2:3":  "1664*2496",
				"21:9": "3024*1296",
			},
		},
		Reference: refMulti,
		Uses:      featureSeed,
		Defaults: map[string]any{
			"seed":                  -1,
			"enable_safety_checker": true,
		},
	},
	FamilyPrunaImage: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:         sizeAspectRatio,
			RatioField:   "aspect_ratio",
			DefaultRatio: "1:1",
			CustomMin:    256,
			CustomMax:    1440,
			CustomStep:   16,
		},
		Reference: refNone,
		Uses:      featureSeed,
		Defaults: map[string]any{
			"seed":                  -1,
			"enable_safety_checker": true,
		},
	},
	FamilyFluxKontext: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1024*1024",
			Ratios:    commonImageRatios,
		},
		Reference: refSingle,
		Uses:      featureSeed,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"seed":                  -1,
			"num_inference_steps":   28,
			"guidance":              2.5,
			"enable_safety_checker": true,
		},
	},
	FamilyNanoBananaEdit: {
		Modality:  ModalityImage,
		Size:      sizeRule{Mode: sizeNone},
		Reference: refMulti,
		Defaults: map[string]any{
			"output_format":         "png",
			"enable_safety_checker": true,
		},
	},
	FamilyFlux: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1024*1024",
			Ratios:    commonImageRatios,
		},
		Reference: refNone,
		Variant:   &variantRule{Marker: "lora"},
		Uses:      featureSeed,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"seed":                  -1,
			"num_inference_steps":   28,
			"guidance":              3.5,
			"enable_safety_checker": true,
		},
	},
	FamilyImage: {
		Modality: ModalityImage,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1024*1024",
			Ratios:    commonImageRatios,
		},
		Reference: refAuto,
		Uses:      featureSeed,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"seed":                  -1,
			"enable_safety_checker": true,
		},
	},
	FamilyWanVideo: {
		Modality: ModalityVideo,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1280*720",
			Ratios: map[string]string{
				"16:9": "1280*720",
				"9:16": "720*1280",
				"1:1":  "960*960",
			},
		},
		Reference: refSingle,
		Variant:   &variantRule{Marker: "lora"},
		Uses:      featureSeed | featureDuration,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"duration":              5,
			"seed":                  -1,
			"num_inference_steps":   30,
			"guidance":              5.0,
			"enable_safety_checker": true,
		},
	},
	FamilySeedanceVideo: {
		Modality: ModalityVideo,
		Size: sizeRule{
			Mode:         sizeAspectRatio,
			RatioField:   "aspect_ratio",
			DefaultRatio: "16:9",
		},
		Reference: refSingle,
		Uses:      featureSeed | featureDuration | featureResolution,
		Defaults: map[string]any{
			"resolution":   "720p",
			"duration":     5,
			"seed":         -1,
			"camera_fixed": false,
		},
	},
	FamilyKlingVideo: {
		Modality: ModalityVideo,
		Size: sizeRule{
			Mode:          sizeAspectRatio,
			RatioField:    "aspect_ratio",
			DefaultRatio:  "16:9",
			AllowedRatios: []string{"16:9", "9:16", "1:1"},
		},
		Reference: refSingle,
		Uses:      featureDuration,
		Defaults: map[string]any{
			"negative_prompt": "",
			"duration":        5,
			"cfg_scale":       0.5,
		},
		Override: klingDuration,
	},
	FamilyVideo: {
		Modality: ModalityVideo,
		Size: sizeRule{
			Mode:      sizeDimension,
			Field:     "size",
			Separator: "*",
			Default:   "1280*720",
			Ratios: map[string]string{
				"16:9": "1280*720",
				"9:16": "720*1280",
				"1:1":  "960*960",
			},
		},
		Reference: refAuto,
		Uses:      featureSeed | featureDuration | featureFPS,
		Defaults: map[string]any{
			"negative_prompt":       "",
			"duration":              5,
			"seed":                  -1,
			"enable_safety_checker": true,
		},
	},
	FamilySpeech: {
		Modality:   ModalitySpeech,
		Size:       sizeRule{Mode: sizeNone},
		Reference:  refNone,
		Uses:       featureSeed,
		ResultKeys: defaultResultKeys[ModalitySpeech],
	},
	FamilyWhisper: {
		Modality:  ModalityTranscription,
		Size:      sizeRule{Mode: sizeNone},
		Reference: refNone,
		Defaults: map[string]any{
			"model":           "turbo",
			"transcription":   "plain_text",
			"word_timestamps": false,
		},
	},
}

var klingDurations = []int{5, 10}

func klingDuration(req GenerationRequest, input map[string]any) error {
	if req.DurationSeconds == nil {
		return nil
	}
	d := *req.DurationSeconds
	for _, allowed := range klingDurations {
		if d == float64(allowed) {
			input["duration"] = allowed
			return nil
		}
	}
	return &Error{
		Kind:     KindInvalidArgument,
		Message:  "unsupported duration " + formatSeconds(d) + "; supported values: 5, 10",
		Value:    formatSeconds(d),
		Accepted: []string{"5", "10"},
	}
}

func (s familySpec) resultKeys() []string {
	if len(s.ResultKeys) > 0 {
		return s.ResultKeys
	}
	return defaultResultKeys[s.Modality]
}
