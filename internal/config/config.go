package config

import (
	"github.com/OFFIS-RIT/stagegraph/internal/util"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port  string
	Debug bool

	AI AIConfig

	DatabaseURL string
	Neo4j       Neo4jConfig
	RabbitMQ    RabbitMQConfig
	S3          S3Config

	AuthURL      string
	MasterAPIKey string
	MasterUserID string

	StagesFile string
}

type AIConfig struct {
	Adapter         string
	ChatURL         string
	ChatKey         string
	NarrativeModel  string
	ExtractionModel string
	Thinking        string
	MaxRetries      int
	ParallelReq     int64
}

type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

type RabbitMQConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Exchange string
}

type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Load assembles a Config from the environment. Sinks whose connection
// settings are empty stay disabled.
func Load() Config {
	return Config{
		Port:  util.GetEnvString("PORT", "8080"),
		Debug: util.GetEnvBool("DEBUG", false),

		AI: AIConfig{
			Adapter:         util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:         util.GetEnv("AI_CHAT_URL"),
			ChatKey:         util.GetEnv("AI_CHAT_KEY"),
			NarrativeModel:  util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			Thinking:        util.GetEnv("AI_THINKING"),
			MaxRetries:      util.GetEnvInt("AI_MAX_RETRIES", 3),
			ParallelReq:     int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		},

		DatabaseURL: util.GetEnv("DATABASE_URL"),
		Neo4j: Neo4jConfig{
			URI:      util.GetEnv("NEO4J_URI"),
			User:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},
		RabbitMQ: RabbitMQConfig{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
			Exchange: util.GetEnvString("RABBITMQ_EXCHANGE", "stagegraph.events"),
		},
		S3: S3Config{
			Bucket:       util.GetEnv("AWS_BUCKET"),
			Region:       util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:     util.GetEnv("AWS_ENDPOINT"),
			AccessKey:    util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey:    util.GetEnv("AWS_SECRET_KEY"),
			UsePathStyle: util.GetEnvBool("AWS_USE_PATH_STYLE", true),
		},

		AuthURL:      util.GetEnv("AUTH_URL"),
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		MasterUserID: util.GetEnvString("MASTER_USER_ID", "master"),

		StagesFile: util.GetEnv("STAGES_FILE"),
	}
}
