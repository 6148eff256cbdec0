package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if cfg.Signer.SocketPath != "/var/run/ssss/signer.sock" {
		t.Errorf("unexpected socket path: %s", cfg.Signer.SocketPath)
	}

	if cfg.Store.Kind != "memory" {
		t.Errorf("expected store.kind=memory, got %s", cfg.Store.Kind)
	}

	if cfg.Keys.Lifetime().Seconds() != 3600 {
		t.Errorf("expected 3600s key lifetime, got %v", cfg.Keys.Lifetime())
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SSSS_ENV", "production")
	os.Setenv("SSSS_SIGNER_KMS_KEY_ID", "arn:aws:kms:us-east-1:123456:key/test-key")
	os.Setenv("SSSS_CHAINS", "31337=http://127.0.0.1:8545=0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512=0x5FbDB2315678afecb367f032d93F642f64180aa3")
	defer os.Unsetenv("SSSS_ENV")
	defer os.Unsetenv("SSSS_SIGNER_KMS_KEY_ID")
	defer os.Unsetenv("SSSS_CHAINS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}

	if cfg.Signer.KMSKeyID != "arn:aws:kms:us-east-1:123456:key/test-key" {
		t.Errorf("unexpected kms key id: %s", cfg.Signer.KMSKeyID)
	}

	if len(cfg.Chains) != 1 || cfg.Chains[0].ChainID != 31337 {
		t.Fatalf("expected one parsed chain with id 31337, got %+v", cfg.Chains)
	}
	if len(cfg.Chains[0].Gateways) != 1 || cfg.Chains[0].Gateways[0] != "http://127.0.0.1:8545" {
		t.Errorf("unexpected gateways: %+v", cfg.Chains[0].Gateways)
	}
}

func TestParseChainsMalformed(t *testing.T) {
	os.Setenv("SSSS_CHAINS", "not-a-valid-entry")
	defer os.Unsetenv("SSSS_CHAINS")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed chains entry")
	}
}
