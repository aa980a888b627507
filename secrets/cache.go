package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Cache fetches secrets by ref and serves them from memory afterwards.
// Secret material is immutable for the lifetime of one running instance,
// so each ref is fetched at most once per process under normal operation.
// Concurrent first lookups of the same ref may fetch twice; the values are
// identical and the last write wins.
type Cache struct {
	client secretsAPI

	mu     sync.Mutex
	values map[string]map[string]string
}

func NewCache(client secretsAPI) *Cache {
	if client == nil {
		panic("secretsmanager client is required")
	}
	return &Cache{
		client: client,
		values: make(map[string]map[string]string),
	}
}

// Get returns the secret stored under ref, decoded from its JSON object form
// into a flat string map.
func (c *Cache) Get(ctx context.Context, ref string) (map[string]string, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty secret ref")
	}

	c.mu.Lock()
	v, ok := c.values[ref]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	out, err := c.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &ref,
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", ref, err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return nil, fmt.Errorf("secret %q has no string value", ref)
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode secret %q: %w", ref, err)
	}

	c.mu.Lock()
	c.values[ref] = m
	c.mu.Unlock()
	return m, nil
}
