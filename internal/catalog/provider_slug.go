package catalog

import "strings"

// legacySlugs maps older provider names still found in catalogs.
var legacySlugs = map[string]string{
	"runpod-serverless": "runpod",
}

// NormalizeProviderSlug lowercases a provider name and spells it with hyphens,
// so "RunPod_OpenAI" and "runpod-openai" select the same builder.
func NormalizeProviderSlug(name string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	if canonical, ok := legacySlugs[slug]; ok {
		return canonical
	}
	return slug
}
