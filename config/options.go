package config

import "time"

// Option is a functional option type for building a Config.
type Option func(*Config)

// New creates a Config with defaults applied, then the provided options.
func New(options ...Option) *Config {
	cfg := &Config{
		RPCURL:  DefaultRPC,
		ChainID: DefaultChainID,
	}
	for _, opt := range options {
		opt(cfg)
	}
	cfg.Standardize()
	return cfg
}

// WithRPC sets the ledger RPC endpoint URL.
func WithRPC(rpc string) Option {
	return func(c *Config) { c.RPCURL = rpc }
}

// WithChainID sets the chain ID.
func WithChainID(chainID int64) Option {
	return func(c *Config) { c.ChainID = chainID }
}

// WithContracts sets the class, attestation and approval contract addresses.
func WithContracts(class, attestation, approval string) Option {
	return func(c *Config) {
		c.ClassContract = class
		c.AttestationContract = attestation
		c.ApprovalContract = approval
	}
}

// WithScanUpperBound sets the last token ID probed on the class contract.
func WithScanUpperBound(n uint64) Option {
	return func(c *Config) { c.ScanUpperBound = n }
}

// WithLocateUpperBound sets the last token ID probed when locating attestations.
func WithLocateUpperBound(n uint64) Option {
	return func(c *Config) { c.LocateUpperBound = n }
}

// WithScanWorkers sets the scan concurrency.
func WithScanWorkers(n int) Option {
	return func(c *Config) { c.ScanWorkers = n }
}

// WithFromBlock sets the first block searched for transfer events.
func WithFromBlock(n uint64) Option {
	return func(c *Config) { c.FromBlock = n }
}

// WithCutoff sets the eligibility cutoff.
func WithCutoff(t time.Time) Option {
	return func(c *Config) { c.Cutoff = t }
}

// WithRecipients sets the attestation recipients.
func WithRecipients(addrs ...string) Option {
	return func(c *Config) { c.Recipients = addrs }
}

// WithReviewers sets the addresses allowed to approve.
func WithReviewers(addrs ...string) Option {
	return func(c *Config) { c.Reviewers = addrs }
}

// WithDuplicatePolicy sets the cross-invocation issuance policy.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(c *Config) { c.DuplicatePolicy = p }
}

// WithSignerKey sets the local signer private key.
func WithSignerKey(hexKey string) Option {
	return func(c *Config) { c.SignerKey = hexKey }
}
