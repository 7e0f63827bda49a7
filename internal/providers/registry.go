package providers

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ncecere/open_media_gateway/backend/internal/catalog"
)

// Definition describes a provider builder and the modalities its routes can serve.
type Definition struct {
	Name        string
	Description string
	Modalities  []string
	Streaming   bool
	Builder     Builder
}

var definitions = map[string]Definition{}

// RegisterDefinition adds a builder under its normalized slug. Registering
// the same slug twice panics.
func RegisterDefinition(def Definition) {
	name := catalog.NormalizeProviderSlug(def.Name)
	switch {
	case name == "":
		panic("providers: definition name required")
	case def.Builder == nil:
		panic(fmt.Sprintf("providers: %s has no builder", name))
	}
	if _, dup := definitions[name]; dup {
		panic(fmt.Sprintf("providers: %s registered twice", name))
	}
	for _, m := range def.Modalities {
		if !slices.Contains(allModalities, m) {
			panic(fmt.Sprintf("providers: %s declares unknown modality %q", name, m))
		}
	}
	def.Name = name
	def.Modalities = slices.Clone(def.Modalities)
	definitions[name] = def
}

// DefaultDefinitions returns the registered definitions sorted by name.
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		def.Modalities = slices.Clone(def.Modalities)
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func cloneDefaultBuilders() map[string]Builder {
	builders := make(map[string]Builder, len(definitions))
	for name, def := range definitions {
		builders[name] = def.Builder
	}
	return builders
}
