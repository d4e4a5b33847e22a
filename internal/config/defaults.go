package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:          "info",
			Language:          "ml",
			FallbackReply:     "ക്ഷമിക്കണം, എനിക്ക് അത് മനസ്സിലായില്ല. ദയവായി വീണ്ടും ശ്രമിക്കൂ.",
			UnsupportedReply:  "ക്ഷമിക്കണം, ടെക്സ്റ്റ്, വോയ്സ് നോട്ട്, ചെടിയുടെ ഫോട്ടോ എന്നിവ മാത്രമേ എനിക്ക് മനസ്സിലാകൂ.",
			VoiceReplyEnabled: false,
		},
		LLM: LLMConfig{
			APIBase:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.1-8b-instant",
			VisionModel: "llama-3.2-11b-vision-preview",
		},
		Speech: SpeechConfig{
			STT: STTConfig{
				APIBase: "https://api.groq.com/openai/v1",
				Model:   "whisper-large-v3",
			},
			TTS: TTSConfig{
				Provider: "openai",
				APIBase:  "https://api.openai.com/v1",
				Model:    "tts-1",
				Voice:    "alloy",
			},
		},
		Channels: ChannelsConfig{
			Twilio: TwilioConfig{
				Enabled:           true,
				FromNumber:        "whatsapp:+14155238886", // Twilio sandbox number
				WebhookPath:       "/webhook/whatsapp",
				ValidateSignature: true,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Media: MediaConfig{
			Dir:              "~/.krishibot/media",
			DBPath:           "~/.krishibot/media.db",
			RetentionMinutes: 60,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Pipeline: PipelineConfig{
			AdapterTimeoutSeconds: 30,
			VoiceTimeoutSeconds:   60,
			VoiceQueueSize:        32,
			VoiceWorkers:          2,
			Concurrency:           8,
		},
	}
}
