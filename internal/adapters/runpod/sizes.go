package runpod

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type sizeMode int

const (
	sizeNone sizeMode = iota
	// sizeDimension sends "W<sep>H", optionally restricted to a fixed catalog.
	sizeDimension
	// sizePixelBudget accepts any W×H whose pixel count is inside [min, max].
	sizePixelBudget
	// sizeAspectRatio forwards the ratio token; "custom" carries width/height.
	sizeAspectRatio
)

type sizeRule struct {
	Mode      sizeMode
	Field     string
	Separator string
	Default   string

	// Allowed is the fixed catalog for dimension families, in W<sep>H form.
	Allowed []string
	// Ratios maps aspect-ratio tokens to sizes for dimension and budget families.
	Ratios map[string]string

	MinPixels int
	MaxPixels int

	RatioField    string
	DefaultRatio  string
	AllowedRatios []string
	CustomMin     int
	CustomMax     int
	CustomStep    int
}

func (r sizeRule) fixedCatalog() bool {
	return len(r.Allowed) > 0
}

// parseDimensions accepts "1024x768", "1024*768" and "1024×768".
func parseDimensions(raw string) (int, int, bool) {
	s := strings.TrimSpace(strings.ToLower(raw))
	for _, sep := range []string{"x", "*", "×"} {
		w, h, ok := strings.Cut(s, sep)
		if !ok {
			continue
		}
		width, err := strconv.Atoi(strings.TrimSpace(w))
		if err != nil || width <= 0 {
			return 0, 0, false
		}
		height, err := strconv.Atoi(strings.TrimSpace(h))
		if err != nil || height <= 0 {
			return 0, 0, false
		}
		return width, height, true
	}
	return 0, 0, false
}

func formatDimensions(width, height int, sep string) string {
	return fmt.Sprintf("%d%s%d", width, sep, height)
}

// resolve applies the rule to the request and writes the size fields into input.
func (r sizeRule) resolve(req GenerationRequest, opts Options, input map[string]any) error {
	switch r.Mode {
	case sizeDimension:
		return r.resolveDimension(req, input)
	case sizePixelBudget:
		return r.resolvePixelBudget(req, input)
	case sizeAspectRatio:
		return r.resolveAspectRatio(req, opts, input)
	}
	return nil
}

func (r sizeRule) resolveDimension(req GenerationRequest, input map[string]any) error {
	if size := strings.TrimSpace(req.Size); size != "" {
		width, height, ok := parseDimensions(size)
		if !ok {
			return invalidArgument("size", size, r.displayAllowed())
		}
		native := formatDimensions(width, height, r.Separator)
		if r.fixedCatalog() && !containsString(r.Allowed, native) {
			return invalidArgument("size", size, r.displayAllowed())
		}
		input[r.Field] = native
		return nil
	}
	if ratio := strings.TrimSpace(req.AspectRatio); ratio != "" {
		native, ok := r.Ratios[ratio]
		if !ok {
			return invalidArgument("aspect ratio", ratio, sortedKeys(r.Ratios))
		}
		input[r.Field] = native
		return nil
	}
	if r.Default != "" {
		input[r.Field] = r.Default
	}
	return nil
}

func (r sizeRule) resolvePixelBudget(req GenerationRequest, input map[string]any) error {
	if size := strings.TrimSpace(req.Size); size != "" {
		width, height, ok := parseDimensions(size)
		if !ok {
			return invalidArgumentf("invalid size %q: expected WIDTHxHEIGHT", size)
		}
		pixels := width * height
		if pixels < r.MinPixels || pixels > r.MaxPixels {
			return &Error{
				Kind: KindInvalidArgument,
				Message: fmt.Sprintf("unsupported size %q: %d pixels is outside the supported range [%d, %d]",
					size, pixels, r.MinPixels, r.MaxPixels),
				Value: size,
			}
		}
		input[r.Field] = formatDimensions(width, height, r.Separator)
		return nil
	}
	if ratio := strings.TrimSpace(req.AspectRatio); ratio != "" {
		native, ok := r.Ratios[ratio]
		if !ok {
			return invalidArgument("aspect ratio", ratio, sortedKeys(r.Ratios))
		}
		input[r.Field] = native
		return nil
	}
	input[r.Field] = r.Default
	return nil
}

func (r sizeRule) resolveAspectRatio(req GenerationRequest, opts Options, input map[string]any) error {
	ratio := strings.TrimSpace(req.AspectRatio)
	width, height := 0, 0
	if opts.Width != nil {
		width = *opts.Width
	}
	if opts.Height != nil {
		height = *opts.Height
	}
	if size := strings.TrimSpace(req.Size); size != "" && r.CustomStep > 0 {
		w, h, ok := parseDimensions(size)
		if !ok {
			return invalidArgumentf("invalid size %q: expected WIDTHxHEIGHT", size)
		}
		if ratio == "" {
			ratio = "custom"
		}
		width, height = w, h
	}
	if ratio == "" {
		ratio = r.DefaultRatio
	}
	if len(r.AllowedRatios) > 0 && !containsString(r.AllowedRatios, ratio) {
		return invalidArgument("aspect ratio", ratio, r.AllowedRatios)
	}
	if ratio == "custom" && r.CustomStep > 0 {
		if width == 0 || height == 0 {
			return invalidArgumentf("aspect ratio \"custom\" requires width and height")
		}
		for _, dim := range []struct {
			name  string
			value int
		}{{"width", width}, {"height", height}} {
			if dim.value < r.CustomMin || dim.value > r.CustomMax {
				return invalidArgumentf("%s %d must be between %d and %d", dim.name, dim.value, r.CustomMin, r.CustomMax)
			}
			if dim.value%r.CustomStep != 0 {
				return invalidArgumentf("%s %d must be a multiple of %d", dim.name, dim.value, r.CustomStep)
			}
		}
		input["width"] = width
		input["height"] = height
	}
	if ratio != "" {
		input[r.RatioField] = ratio
	}
	return nil
}

func (r sizeRule) displayAllowed() []string {
	if len(r.Allowed) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Allowed))
	for _, a := range r.Allowed {
		out = append(out, strings.ReplaceAll(a, r.Separator, "x"))
	}
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
