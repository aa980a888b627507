package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Environment contract shared by the Lambda and standalone deployments.
const (
	envBucket      = "INGESTION_BUCKET_NAME"
	envSourceTypes = "PULLER_LOG_SOURCE_TYPES"
	envSecretRefs  = "SECRET_ARNS"
	envCatalogDir  = "LOG_SOURCES_CONFIG_DIR"
	envKeyPrefix   = "S3_KEY_PREFIX"

	defaultCatalogDir = "/opt/config/log_sources"
)

type Config struct {
	// Bucket receives the compressed archives.
	Bucket string
	// KeyPrefix is prepended to every archive key. Optional.
	KeyPrefix string
	// SourceTypes lists the connector types this deployment handles.
	SourceTypes []string
	// SecretRefs maps source names to their credential refs.
	SecretRefs map[string]string
	// CatalogDir holds the log source declarations.
	CatalogDir string
}

// FromEnv reads the process configuration. A missing or unparseable required
// variable is an error; the worker must not accept batches without a
// complete configuration.
func FromEnv() (*Config, error) {
	bucket := os.Getenv(envBucket)
	if bucket == "" {
		return nil, fmt.Errorf("%s is required", envBucket)
	}

	typesRaw := os.Getenv(envSourceTypes)
	if typesRaw == "" {
		return nil, fmt.Errorf("%s is required", envSourceTypes)
	}
	var types []string
	if err := json.Unmarshal([]byte(typesRaw), &types); err != nil {
		return nil, fmt.Errorf("parse %s: %w", envSourceTypes, err)
	}

	refsRaw := os.Getenv(envSecretRefs)
	if refsRaw == "" {
		return nil, fmt.Errorf("%s is required", envSecretRefs)
	}
	var refs map[string]string
	if err := json.Unmarshal([]byte(refsRaw), &refs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", envSecretRefs, err)
	}

	dir := os.Getenv(envCatalogDir)
	if dir == "" {
		dir = defaultCatalogDir
	}

	return &Config{
		Bucket:      bucket,
		KeyPrefix:   os.Getenv(envKeyPrefix),
		SourceTypes: types,
		SecretRefs:  refs,
		CatalogDir:  dir,
	}, nil
}
