package agent

// Listen (speech-to-text) models offered by the Deepgram agent.
const (
	ListenNova3General = "nova-3-general"
	ListenNova3Medical = "nova-3-medical"
)

// Think (LLM) models. The inference provider for each is resolved with
// [ThinkProviderFor].
const (
	ThinkClaude35Haiku = "claude-3-5-haiku-latest"
	ThinkGPT4o         = "gpt-4o"
	ThinkGemini25Flash = "gemini-2.5-flash"
)

// Speech (text-to-speech) voices.
const (
	SpeechAura2Thalia    = "aura-2-thalia-en"
	SpeechAura2Andromeda = "aura-2-andromeda-en"
	SpeechAura2Helena    = "aura-2-helena-en"
	SpeechAura2Apollo    = "aura-2-apollo-en"
	SpeechAura2Arcas     = "aura-2-arcas-en"
	SpeechAura2Aries     = "aura-2-aries-en"
)

// ListenModels lists the known listen models.
var ListenModels = []string{ListenNova3General, ListenNova3Medical}

// ThinkModels lists the known think models.
var ThinkModels = []string{ThinkClaude35Haiku, ThinkGPT4o, ThinkGemini25Flash}

// SpeechModels lists the known speech voices.
var SpeechModels = []string{
	SpeechAura2Thalia,
	SpeechAura2Andromeda,
	SpeechAura2Helena,
	SpeechAura2Apollo,
	SpeechAura2Arcas,
	SpeechAura2Aries,
}
