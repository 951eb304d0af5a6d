package config

import (
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port     int    `env:"PORT" env-default:"8080"`
	AudioDir string `env:"AUDIO_DIR" env-default:"./audio"`

	Database DatabaseConfig
	Engine   EngineConfig  `env-prefix:"ENGINE_"`
	Review   ReviewConfig  `env-prefix:"REVIEW_"`
	Session  SessionConfig `env-prefix:"SESSION_"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `env:"DB_DRIVER" env-default:"sqlite"`
	DSN    string `env:"DB_DSN" env-default:"file:transcriptions.sqlite"`
}

type EngineConfig struct {
	// URL of the whisper inference server.
	URL     string `env:"URL" env-default:"http://localhost:9000"`
	ModelID string `env:"MODEL" env-default:"whisper-base"`
}

type ReviewConfig struct {
	// URL of the local Ollama instance used for text review and titles.
	URL   string `env:"URL" env-default:"http://localhost:11434"`
	Model string `env:"MODEL" env-default:"llama3.2"`
}

type SessionConfig struct {
	// InferenceIntervalSeconds is the wall-clock cadence between
	// transcription passes over the accumulated audio.
	InferenceIntervalSeconds float64 `env:"INFERENCE_INTERVAL_SECONDS" env-default:"3"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}

	return &cfg
}
