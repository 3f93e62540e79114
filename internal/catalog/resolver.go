package catalog

import (
	"fmt"
	"strings"

	"github.com/mpontes/llm-gateway/internal/domain"
)

// aliasPatterns rewrites a "<providerTag>:<name>" alias into a catalog id.
// The rules are a fixed table, not inferred: OpenRouter aliases map onto the
// free-tier catalog ids, the other providers use a plain prefix.
var aliasPatterns = map[string]string{
	domain.ProviderOpenAI:     "openai-%s",
	domain.ProviderOpenRouter: "openrouter-%s-free",
	domain.ProviderEigenCloud: "eigencloud-%s",
}

// Resolve maps a caller-supplied model alias to a catalog entry.
// Resolution order: the (normalized) alias is tried as a catalog id first;
// failing that, the catalog is scanned for an entry whose provider and
// upstream model string match literally, for callers that pass a real
// upstream identifier instead of an alias.
func (c *Catalog) Resolve(alias, providerTag string) (*domain.ModelEntry, error) {
	if e, ok := c.byID[normalizeAlias(alias)]; ok {
		return e, nil
	}
	if e, ok := c.byID[alias]; ok {
		return e, nil
	}

	for _, e := range c.entries {
		if e.Provider == providerTag && e.UpstreamModel == alias {
			return e, nil
		}
	}

	return nil, domain.NewError(domain.CodeModelNotFound, false,
		"model %q not found for provider %q", alias, providerTag)
}

func normalizeAlias(alias string) string {
	tag, name, ok := strings.Cut(alias, ":")
	if !ok {
		return alias
	}
	pattern, ok := aliasPatterns[tag]
	if !ok {
		return alias
	}
	return fmt.Sprintf(pattern, name)
}
