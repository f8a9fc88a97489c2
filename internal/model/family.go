package model

// AgentFamily identifies which third-party agent CLI/SDK produced a
// transcript. The core treats each family's on-disk layout and message
// dialect as opaque beyond the small adapter contract (§4.2); this type is
// just the dispatch key.
type AgentFamily string

const (
	FamilyClaude    AgentFamily = "claude"     // Claude-like: NDJSON transcripts, plain directory names.
	FamilyCodex     AgentFamily = "codex"      // Codex-like: hashes the project directory into its session root name.
	FamilyGeminiACP AgentFamily = "gemini-acp" // Gemini/ACP-like: protocol-driven (JSON-RPC over stdio), no free-form transcript dialect of its own.
)

// KnownFamilies lists every family the core ships an adapter and transcript
// parser for. Order is stable and used when scanning roots deterministically.
var KnownFamilies = []AgentFamily{FamilyClaude, FamilyCodex, FamilyGeminiACP}
