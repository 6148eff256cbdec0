// Package config loads the node's runtime configuration from
// SSSS_-prefixed environment variables, the same viper-based convention
// the teacher uses for its CAESAR_-prefixed settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all node configuration.
type Config struct {
	Env  string `mapstructure:"env"`
	Bind string `mapstructure:"bind"`
	Host string `mapstructure:"host"`

	Store  StoreConfig
	Chains []ChainConfig
	Keys   KeyConfig
	Signer SignerConfig
	Verify VerifyConfig
}

// StoreConfig selects and configures the node's storage backend.
type StoreConfig struct {
	// Kind is one of "memory", "local" (bbolt), or "cloud" (AWS KMS +
	// DynamoDB).
	Kind string `mapstructure:"kind"`

	BoltPath string `mapstructure:"bolt_path"`

	AWSRegion          string `mapstructure:"aws_region"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	KMSKeyID           string `mapstructure:"kms_key_id"`
	DynamoDBTablePrefix string `mapstructure:"dynamodb_table_prefix"`
}

// ChainConfig names one supported chain's RPC endpoint(s) and the
// SsssPermitter contract address policies on that chain are bound to.
type ChainConfig struct {
	ChainID   uint64
	Gateways  []string
	Permitter common.Address
	Registry  common.Address
}

// KeyConfig controls the ephemeral ECDH keypair provider's rotation
// schedule.
type KeyConfig struct {
	LifetimeSec   int `mapstructure:"lifetime_sec"`
	SwapWindowSec int `mapstructure:"swap_window_sec"`
}

func (k KeyConfig) Lifetime() time.Duration   { return time.Duration(k.LifetimeSec) * time.Second }
func (k KeyConfig) SwapWindow() time.Duration { return time.Duration(k.SwapWindowSec) * time.Second }

// SignerConfig mirrors the teacher's SignerConfig shape (UDS socket to an
// isolated signing process backed by AWS KMS), repurposed from
// Polymarket order signing to SsssPermit/escrin1-response signing.
type SignerConfig struct {
	SocketPath    string `mapstructure:"socket_path"`
	SessionTTLSec int    `mapstructure:"session_ttl_sec"`
	KMSKeyID      string `mapstructure:"kms_key_id"`
	AWSRegion     string `mapstructure:"aws_region"`
}

// VerifyConfig configures the nitro attestation verifier and which
// test-only verifiers are enabled.
type VerifyConfig struct {
	NitroRootCertPath string `mapstructure:"nitro_root_cert_path"`
	EnableMock        bool   `mapstructure:"enable_mock"`
}

// Load reads configuration from environment variables prefixed with
// SSSS_, e.g. SSSS_BIND, SSSS_STORE_KIND, SSSS_SIGNER_SOCKET_PATH.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SSSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("bind", "127.0.0.1:1075")
	v.SetDefault("host", "127.0.0.1:1075")

	v.SetDefault("store.kind", "memory")
	v.SetDefault("store.bolt_path", "ssss.db")
	v.SetDefault("store.aws_region", "us-east-1")
	v.SetDefault("store.dynamodb_table_prefix", "ssss")

	v.SetDefault("keys.lifetime_sec", 3600)
	v.SetDefault("keys.swap_window_sec", 300)

	v.SetDefault("signer.socket_path", "/var/run/ssss/signer.sock")
	v.SetDefault("signer.session_ttl_sec", 3600)
	v.SetDefault("signer.aws_region", "us-east-1")

	v.SetDefault("verify.enable_mock", false)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.Bind = v.GetString("bind")
	cfg.Host = v.GetString("host")

	cfg.Store = StoreConfig{
		Kind:                v.GetString("store.kind"),
		BoltPath:            v.GetString("store.bolt_path"),
		AWSRegion:           v.GetString("store.aws_region"),
		LocalStackEndpoint:  v.GetString("store.localstack_endpoint"),
		KMSKeyID:            v.GetString("store.kms_key_id"),
		DynamoDBTablePrefix: v.GetString("store.dynamodb_table_prefix"),
	}

	cfg.Keys = KeyConfig{
		LifetimeSec:   v.GetInt("keys.lifetime_sec"),
		SwapWindowSec: v.GetInt("keys.swap_window_sec"),
	}

	cfg.Signer = SignerConfig{
		SocketPath:    v.GetString("signer.socket_path"),
		SessionTTLSec: v.GetInt("signer.session_ttl_sec"),
		KMSKeyID:      v.GetString("signer.kms_key_id"),
		AWSRegion:     v.GetString("signer.aws_region"),
	}

	cfg.Verify = VerifyConfig{
		NitroRootCertPath: v.GetString("verify.nitro_root_cert_path"),
		EnableMock:        v.GetBool("verify.enable_mock"),
	}

	chains, err := parseChains(v)
	if err != nil {
		return nil, err
	}
	cfg.Chains = chains

	return cfg, nil
}

// parseChains reads SSSS_CHAINS as a comma-separated list of
// "chainID=gateway1|gateway2=permitter=registry" entries. A single
// environment variable is used (rather than one per chain) because
// viper's AutomaticEnv cannot enumerate an unknown set of per-chain keys.
func parseChains(v *viper.Viper) ([]ChainConfig, error) {
	raw := v.GetString("chains")
	if raw == "" {
		return nil, nil
	}
	var chains []ChainConfig
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(entry, "=")
		if len(parts) != 4 {
			return nil, fmt.Errorf("config: malformed chain entry %q, want chainID=gateways=permitter=registry", entry)
		}
		var chainID uint64
		if _, err := fmt.Sscanf(parts[0], "%d", &chainID); err != nil {
			return nil, fmt.Errorf("config: invalid chain id in %q: %w", entry, err)
		}
		if !common.IsHexAddress(parts[2]) || !common.IsHexAddress(parts[3]) {
			return nil, fmt.Errorf("config: invalid permitter/registry address in %q", entry)
		}
		chains = append(chains, ChainConfig{
			ChainID:   chainID,
			Gateways:  strings.Split(parts[1], "|"),
			Permitter: common.HexToAddress(parts[2]),
			Registry:  common.HexToAddress(parts[3]),
		})
	}
	return chains, nil
}
