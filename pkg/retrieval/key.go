package retrieval

import (
	"sort"
	"strconv"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// Cache key format versions. rk1 is canonical; rk0 and the bare joined
// form are legacy aliases older deployments may still compute.
const (
	keyVersionCanonical = "rk1:"
	keyVersionLegacy    = "rk0:"
)

// CanonicalQuery folds a query for keying: trimmed, whitespace-collapsed,
// case-folded. Prompts keep the original text.
func CanonicalQuery(query string) string {
	return utils.FoldText(query)
}

// CacheKey fingerprints a lookup: canonical query, the backend set (order
// ignored), the hybrid flag, the embedding dimension, and top_k. Two
// lookups with the same key are interchangeable.
func CacheKey(canonical string, cfg *config.RetrievalConfig, dimension, topK int) string {
	return keyVersionCanonical + utils.Checksum64(keyMaterial(canonical, sortedBackends(cfg.Backends), cfg.HybridEnabled(), dimension, topK))
}

// LegacyAliases returns the older key forms that must resolve to the same
// cache slot: the rk0 fingerprint over the backend list in declared order,
// and the original unhashed material.
func LegacyAliases(canonical string, cfg *config.RetrievalConfig, dimension, topK int) []string {
	declared := append([]string(nil), cfg.Backends...)
	material := keyMaterial(canonical, declared, cfg.HybridEnabled(), dimension, topK)
	return []string{
		keyVersionLegacy + utils.Checksum64(material),
		material,
	}
}

func keyMaterial(canonical string, backends []string, hybrid bool, dimension, topK int) string {
	return strings.Join([]string{
		canonical,
		strings.Join(backends, ","),
		strconv.FormatBool(hybrid),
		strconv.Itoa(dimension),
		strconv.Itoa(topK),
	}, "|")
}

func sortedBackends(backends []string) []string {
	out := append([]string(nil), backends...)
	sort.Strings(out)
	return out
}
