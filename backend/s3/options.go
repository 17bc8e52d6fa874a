package s3

import (
	"errors"
	"os"
)

// Errors specific to the S3 backend.
var (
	ErrBucketRequired = errors.New("s3: bucket is required")
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. If empty, the SDK default chain decides.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible services such as MinIO.
	Endpoint string

	// Prefix is prepended to every key. One bucket can host several clusters
	// by giving each a prefix.
	Prefix string

	// AccessKeyID and SecretAccessKey are static credentials. When empty the
	// SDK default chain (environment, shared config, IAM role) is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing, required by MinIO.
	UsePathStyle bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{}
}

// ConfigFromEnv creates a Config from environment variables.
// Environment variables:
//   - OMNICAS_S3_BUCKET: bucket name
//   - OMNICAS_S3_REGION or AWS_REGION: region
//   - OMNICAS_S3_ENDPOINT: custom endpoint
//   - OMNICAS_S3_PREFIX: key prefix
//   - AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN: credentials
//   - OMNICAS_S3_USE_PATH_STYLE: "true" for path-style addressing
func ConfigFromEnv() Config {
	config := DefaultConfig()

	config.Bucket = os.Getenv("OMNICAS_S3_BUCKET")
	if v := os.Getenv("OMNICAS_S3_REGION"); v != "" {
		config.Region = v
	} else {
		config.Region = os.Getenv("AWS_REGION")
	}
	config.Endpoint = os.Getenv("OMNICAS_S3_ENDPOINT")
	config.Prefix = os.Getenv("OMNICAS_S3_PREFIX")
	config.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	config.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	config.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	if v := os.Getenv("OMNICAS_S3_USE_PATH_STYLE"); v == "true" || v == "1" {
		config.UsePathStyle = true
	}

	return config
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: bucket, region, endpoint, prefix, access_key_id,
// secret_access_key, session_token, use_path_style.
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	config.Bucket = m["bucket"]
	config.Region = m["region"]
	config.Endpoint = m["endpoint"]
	config.Prefix = m["prefix"]
	config.AccessKeyID = m["access_key_id"]
	config.SecretAccessKey = m["secret_access_key"]
	config.SessionToken = m["session_token"]
	if v := m["use_path_style"]; v == "true" || v == "1" {
		config.UsePathStyle = true
	}

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return ErrBucketRequired
	}
	return nil
}
