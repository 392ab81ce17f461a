package aws

import (
	"context"
	"testing"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != DefaultRegion {
		t.Fatalf("expected default region %q, got %s", DefaultRegion, cfg.Region)
	}
}

func TestNewAWSClients_WithEndpointOverride(t *testing.T) {
	clients, err := NewAWSClients(context.Background(), "eu-west-1", "http://localhost:4566")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// we can't reach the endpoint here, but every client must be wired.
	if clients.DynamoDB == nil || clients.SQS == nil || clients.CloudWatch == nil {
		t.Fatalf("expected all clients to be set, got %+v", clients)
	}
}
