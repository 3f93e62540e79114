// Package secrets loads gateway credentials (provider API keys and the
// inbound HMAC shared secret) from AWS Secrets Manager at startup.
// Environment variables always win; the secret store only fills gaps.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Credentials is the JSON document stored under the gateway's secret name.
type Credentials struct {
	SharedSecret     string `json:"shared_secret,omitempty"`
	OpenAIAPIKey     string `json:"openai_api_key,omitempty"`
	OpenRouterAPIKey string `json:"openrouter_api_key,omitempty"`
	EigenCloudAPIKey string `json:"eigencloud_api_key,omitempty"`
}

type Store interface {
	GetCredentials(ctx context.Context, name string) (*Credentials, error)
}

type AWSStore struct {
	client *secretsmanager.Client
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSStore{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *AWSStore) GetCredentials(ctx context.Context, name string) (*Credentials, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(*result.SecretString), &creds); err != nil {
		return nil, fmt.Errorf("parse secret %s: %w", name, err)
	}
	return &creds, nil
}

// InMemoryStore holds credentials by name, for tests and local development.
type InMemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credentials
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{creds: make(map[string]*Credentials)}
}

func (s *InMemoryStore) GetCredentials(ctx context.Context, name string) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[name]
	if !ok {
		return nil, fmt.Errorf("secret %s not found", name)
	}
	return c, nil
}

func (s *InMemoryStore) SetCredentials(name string, c *Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = c
}
