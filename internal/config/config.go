package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// realtime transport
	OpenAIKey       string
	RealtimeModel   string
	RealtimeBaseURL string
	HealthTimeout   time.Duration

	// conversation defaults
	DefaultLanguage string
	DefaultVoice    string
	Instructions    string

	// degraded-mode speech providers
	AssemblyAIKey     string
	OpenAIChatModel   string
	TTSProvider       string // "deepgram" or "elevenlabs"
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// transcript persistence
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	// signaling
	ICEServersJSON string
	AuthPassword   string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	addr := getEnv("HTTP_ADDRESS", ":8080")

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - realtime sessions will run degraded")
	}
	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - push-to-talk transcription will not work")
	}
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if deepgramKey == "" && elevenKey == "" {
		log.Println("Warning: no TTS provider key set - synthesized playback will not work")
	}

	healthTimeout := 10 * time.Second
	if raw := os.Getenv("HEALTH_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			healthTimeout = d
		} else {
			log.Printf("Warning: invalid HEALTH_TIMEOUT %q, using %s", raw, healthTimeout)
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:            addr,
		OpenAIKey:              openAIKey,
		RealtimeModel:          getEnv("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeBaseURL:        os.Getenv("REALTIME_BASE_URL"),
		HealthTimeout:          healthTimeout,
		DefaultLanguage:        getEnv("DEFAULT_LANGUAGE", "en"),
		DefaultVoice:           getEnv("DEFAULT_VOICE", "alloy"),
		Instructions:           os.Getenv("CONVERSATION_INSTRUCTIONS"),
		AssemblyAIKey:          assemblyAIKey,
		OpenAIChatModel:        getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		TTSProvider:            getEnv("TTS_PROVIDER", "deepgram"),
		DeepgramKey:            deepgramKey,
		DeepgramModel:          os.Getenv("DEEPGRAM_MODEL"),
		ElevenLabsKey:          elevenKey,
		ElevenLabsVoiceID:      os.Getenv("ELEVENLABS_VOICE_ID"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "conversation-transcripts"),
		ICEServersJSON:         getEnv("ICE_SERVERS_JSON", `[{"urls":["stun:stun.l.google.com:19302"]}]`),
		AuthPassword:           os.Getenv("AUTH_PASSWORD"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
