package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	ElasticURL      string `envconfig:"ELASTIC_URL" default:"http://localhost:9200"`
	ElasticUser     string `envconfig:"ELASTIC_USER"`
	ElasticPassword string `envconfig:"ELASTIC_PASSWORD"`
	ElasticIndex    string `envconfig:"ELASTIC_INDEX" default:"documents"`

	// Parse-Provider (externer Dokumenten-Parser)
	ParseBaseURL string `envconfig:"PARSE_BASE_URL" default:"https://api.va.landing.ai/v1/ade"`
	ParseAPIKey  string `envconfig:"PARSE_API_KEY" required:"true"`
	ParseModel   string `envconfig:"PARSE_MODEL" default:"dpt-2-latest"`

	// Summarizer-Provider (Claude)
	ClaudeBaseURL   string `envconfig:"CLAUDE_BASE_URL" default:"https://api.anthropic.com/v1"`
	ClaudeAPIKey    string `envconfig:"CLAUDE_API_KEY"`
	ClaudeModel     string `envconfig:"CLAUDE_MODEL" default:"claude-3-haiku-20240307"`
	ClaudeMaxTokens int    `envconfig:"CLAUDE_MAX_TOKENS" default:"500"`

	// Pipeline-Verhalten
	MaxPages          int  `envconfig:"MAX_PAGES" default:"50"`
	MaxRetries        int  `envconfig:"MAX_RETRIES" default:"3"`
	GenerateSummaries bool `envconfig:"GENERATE_SUMMARIES" default:"true"`

	// Boost-Cache für Feedback
	BoostCacheTTLSeconds int `envconfig:"BOOST_CACHE_TTL_SECONDS" default:"300"`

	// Janitor räumt nach einem Neustart hängengebliebene Dokumente auf.
	JanitorSchedule string `envconfig:"JANITOR_SCHEDULE" default:"*/15 * * * *"`

	StratoS3Key    string `envconfig:"STRATO_S3_KEY" required:"true"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET" required:"true"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL" required:"true"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION" required:"true"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
