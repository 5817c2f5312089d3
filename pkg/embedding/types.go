// Package embedding implements embedding acquisition for the content
// pipeline: content normalization and cache keys, a provider router with
// an ordered fallback chain, and the circuit breaker that guards
// generation calls. The cache tiers and facade live in the cache
// subpackage.
package embedding

// Provider constants
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderMock    = "mock"
)

// Vector is an embedding: an ordered sequence of float32 components.
// Dimensionality is fixed per model fingerprint.
type Vector = []float32

// Key identifies one cache entry. The fingerprint names the exact
// model/provider that produced (or should produce) the vector; the hash
// is the content identity. Equal text under different fingerprints is
// two distinct entries.
type Key struct {
	Fingerprint string
	Hash        string
}

// String returns the canonical document id form used by the durable
// store and log lines.
func (k Key) String() string {
	return k.Fingerprint + ":" + k.Hash
}

// ModelInfo describes a known embedding model. The registry is
// advisory: routing attempts models it has never heard of, but known
// dimensions let config validation catch contract mismatches early.
type ModelInfo struct {
	Provider   string `json:"provider"`
	ModelName  string `json:"model_name"`
	Dimensions int    `json:"dimensions"`
}

// knownModels is keyed by fingerprint.
var knownModels = map[string]ModelInfo{
	"openai/text-embedding-3-small":        {Provider: ProviderOpenAI, ModelName: "text-embedding-3-small", Dimensions: 1536},
	"openai/text-embedding-3-large":        {Provider: ProviderOpenAI, ModelName: "text-embedding-3-large", Dimensions: 3072},
	"openai/text-embedding-ada-002":        {Provider: ProviderOpenAI, ModelName: "text-embedding-ada-002", Dimensions: 1536},
	"bedrock/amazon.titan-embed-text-v1":   {Provider: ProviderBedrock, ModelName: "amazon.titan-embed-text-v1", Dimensions: 1536},
	"bedrock/amazon.titan-embed-text-v2:0": {Provider: ProviderBedrock, ModelName: "amazon.titan-embed-text-v2:0", Dimensions: 1024},
	"bedrock/cohere.embed-english-v3":      {Provider: ProviderBedrock, ModelName: "cohere.embed-english-v3", Dimensions: 1024},
}

// LookupModel returns registry info for a fingerprint, if known.
func LookupModel(fingerprint string) (ModelInfo, bool) {
	info, ok := knownModels[fingerprint]
	return info, ok
}
