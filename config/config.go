// Package config reads settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	BackendKV     = "kv"
	BackendGitHub = "github"

	KVDriverDir      = "dir"
	KVDriverMemory   = "memory"
	KVDriverRedis    = "redis"
	KVDriverMinio    = "minio"
	KVDriverDynamoDB = "dynamodb"

	IndexDriverKV  = "kv"
	IndexDriverLog = "log"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicDir string `env:"PUBLIC_DIR" envDefault:"public"`
	LogDir    string `env:"LOG_DIR" envDefault:"logs"`
	Verbose   bool   `env:"VERBOSE"`

	// where /api/records keeps records: "kv" or "github"
	Backend   string `env:"DESPACHO_BACKEND" envDefault:"kv"`
	ListLimit int    `env:"LIST_LIMIT" envDefault:"100"`

	KVDriver    string `env:"KV_DRIVER" envDefault:"dir"`
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	IndexDriver string `env:"INDEX_DRIVER" envDefault:"kv"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"despacho:"`

	// Minio / S3
	MinioEndpoint string `env:"MINIO_ENDPOINT"`
	MinioAccess   string `env:"MINIO_ACCESS"`
	MinioSecret   string `env:"MINIO_SECRET"`
	MinioBucket   string `env:"MINIO_BUCKET"`
	MinioRegion   string `env:"MINIO_REGION"`
	MinioPrefix   string `env:"MINIO_PREFIX"`
	MinioInsecure bool   `env:"MINIO_INSECURE"`

	// DynamoDB
	DynamoDBRegion   string `env:"DYNAMODB_REGION" envDefault:"us-east-1"`
	DynamoDBTable    string `env:"DYNAMODB_TABLE" envDefault:"despacho"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`

	// GitHub file used by /api/commit and DESPACHO_BACKEND=github
	GitHubOwner  string `env:"GH_OWNER"`
	GitHubRepo   string `env:"GH_REPO"`
	GitHubBranch string `env:"GH_BRANCH" envDefault:"main"`
	GitHubPath   string `env:"GH_PATH" envDefault:"descargas.json"`
	GitHubToken  string `env:"GH_TOKEN"`
	GitHubAPIURL string `env:"GH_API_URL" envDefault:"https://api.github.com"`
}

// Load reads envFile (if it exists) into the environment, then parses the
// environment. Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading '%s': %w", envFile, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func oneOf(name string, v string, valid ...string) error {
	for _, s := range valid {
		if v == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s '%s', must be one of %v", name, v, valid)
}

// Validate checks driver names and settings required by the chosen drivers.
// Missing GitHub credentials are not an error here.
func (c *Config) Validate() error {
	if err := oneOf("DESPACHO_BACKEND", c.Backend, BackendKV, BackendGitHub); err != nil {
		return err
	}
	if err := oneOf("KV_DRIVER", c.KVDriver, KVDriverDir, KVDriverMemory, KVDriverRedis, KVDriverMinio, KVDriverDynamoDB); err != nil {
		return err
	}
	if err := oneOf("INDEX_DRIVER", c.IndexDriver, IndexDriverKV, IndexDriverLog); err != nil {
		return err
	}
	if c.ListLimit < 1 {
		return fmt.Errorf("invalid LIST_LIMIT %d, must be positive", c.ListLimit)
	}
	if c.Backend != BackendKV {
		return nil
	}
	if c.KVDriver == KVDriverMinio && (c.MinioEndpoint == "" || c.MinioBucket == "") {
		return errors.New("KV_DRIVER=minio needs MINIO_ENDPOINT and MINIO_BUCKET")
	}
	if (c.KVDriver == KVDriverDir || c.IndexDriver == IndexDriverLog) && c.DataDir == "" {
		return errors.New("DATA_DIR must be set")
	}
	return nil
}
