package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ATTESTOR_CONTRACTS_CLASS.
const EnvPrefix = "ATTESTOR"

//go:embed default.yaml
var defaultYAML []byte

type fileConfig struct {
	RPCURL    string `mapstructure:"rpc_url"`
	ChainID   int64  `mapstructure:"chain_id"`
	Contracts struct {
		Class       string `mapstructure:"class"`
		Attestation string `mapstructure:"attestation"`
		Approval    string `mapstructure:"approval"`
	} `mapstructure:"contracts"`
	Scan struct {
		UpperBound uint64 `mapstructure:"upper_bound"`
		Workers    int    `mapstructure:"workers"`
		PageSize   uint64 `mapstructure:"page_size"`
		FromBlock  uint64 `mapstructure:"from_block"`
	} `mapstructure:"scan"`
	Locate struct {
		UpperBound uint64 `mapstructure:"upper_bound"`
	} `mapstructure:"locate"`
	Eligibility struct {
		Cutoff       string `mapstructure:"cutoff"`
		ProofSetSize int    `mapstructure:"proof_set_size"`
	} `mapstructure:"eligibility"`
	Metadata struct {
		IPFSGateway string        `mapstructure:"ipfs_gateway"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"metadata"`
	Tx struct {
		GasLimit uint64 `mapstructure:"gas_limit"`
		GasPrice string `mapstructure:"gas_price"`
	} `mapstructure:"tx"`
	Signer struct {
		PrivateKey string `mapstructure:"private_key"`
		RemoteURL  string `mapstructure:"remote_url"`
		APIKey     string `mapstructure:"api_key"`
		Address    string `mapstructure:"address"`
	} `mapstructure:"signer"`
	Issuance struct {
		Recipients      []string `mapstructure:"recipients"`
		DuplicatePolicy string   `mapstructure:"duplicate_policy"`
	} `mapstructure:"issuance"`
	Approval struct {
		Reviewers []string `mapstructure:"reviewers"`
	} `mapstructure:"approval"`
	Journal struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"journal"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// Load reads the embedded defaults, merges the optional YAML file at path, applies
// ATTESTOR_* environment overrides and returns a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("cannot unmarshal the configuration: %w", err)
	}

	cfg, err := fc.toConfig()
	if err != nil {
		return nil, err
	}

	cfg.Standardize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (fc *fileConfig) toConfig() (*Config, error) {
	policy, err := ParseDuplicatePolicy(fc.Issuance.DuplicatePolicy)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCURL:              fc.RPCURL,
		ChainID:             fc.ChainID,
		ClassContract:       fc.Contracts.Class,
		AttestationContract: fc.Contracts.Attestation,
		ApprovalContract:    fc.Contracts.Approval,
		ScanUpperBound:      fc.Scan.UpperBound,
		LocateUpperBound:    fc.Locate.UpperBound,
		ScanWorkers:         fc.Scan.Workers,
		ScanPageSize:        fc.Scan.PageSize,
		FromBlock:           fc.Scan.FromBlock,
		ProofSetSize:        fc.Eligibility.ProofSetSize,
		IPFSGateway:         fc.Metadata.IPFSGateway,
		MetadataTimeout:     fc.Metadata.Timeout,
		GasLimit:            fc.Tx.GasLimit,
		Recipients:          fc.Issuance.Recipients,
		Reviewers:           fc.Approval.Reviewers,
		DuplicatePolicy:     policy,
		SignerKey:           fc.Signer.PrivateKey,
		RemoteSignerURL:     fc.Signer.RemoteURL,
		RemoteSignerAPIKey:  fc.Signer.APIKey,
		RemoteSignerAddress: fc.Signer.Address,
		JournalDSN:          fc.Journal.DSN,
		LogLevel:            fc.Log.Level,
		LogDevelopment:      fc.Log.Development,
	}

	if fc.Eligibility.Cutoff != "" {
		cutoff, err := time.Parse(time.RFC3339, fc.Eligibility.Cutoff)
		if err != nil {
			return nil, fmt.Errorf("invalid eligibility cutoff %q: %w", fc.Eligibility.Cutoff, err)
		}
		cfg.Cutoff = cutoff.UTC()
	}

	if fc.Tx.GasPrice != "" {
		price, ok := new(big.Int).SetString(fc.Tx.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid gas price: %s", fc.Tx.GasPrice)
		}
		cfg.GasPrice = price
	}

	return cfg, nil
}
