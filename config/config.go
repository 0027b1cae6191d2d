// Package config holds the explicit configuration passed to every pipeline component.
//
// Contract addresses, scan bounds, the eligibility cutoff and the proof-set size are
// never read from package-level literals by the components themselves; they receive a
// *Config at construction time.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Default values.
const (
	// DefaultRPC is the default JSON-RPC endpoint of the ledger.
	DefaultRPC = "http://127.0.0.1:8545"
	// DefaultChainID is the default chain ID used for EIP-155 signing.
	DefaultChainID = int64(11155111)
	// DefaultScanUpperBound is the last token ID probed when scanning class tokens.
	DefaultScanUpperBound = uint64(100)
	// DefaultLocateUpperBound is the last token ID probed when locating an attestation.
	DefaultLocateUpperBound = uint64(100)
	// DefaultScanWorkers bounds the number of concurrent per-token reads.
	DefaultScanWorkers = 8
	// DefaultScanPageSize is the number of token IDs handed to the worker pool at once.
	DefaultScanPageSize = uint64(25)
	// DefaultProofSetSize is the number of source tokens referenced by an attestation.
	DefaultProofSetSize = 10
	// DefaultIPFSGateway replaces the ipfs:// scheme in metadata URIs.
	DefaultIPFSGateway = "https://ipfs.io/ipfs/"
	// DefaultMetadataTimeout bounds a single metadata document fetch.
	DefaultMetadataTimeout = 10 * time.Second
	// DefaultGasLimit is the gas limit used for issuance transactions.
	DefaultGasLimit = uint64(500000)
)

// DefaultCutoff is the eligibility cutoff: every class token must be minted strictly before it.
var DefaultCutoff = time.Date(2025, time.May, 28, 0, 0, 0, 0, time.UTC)

// DuplicatePolicy decides what the attestation orchestrator does when a recipient already
// holds an attestation for the same holder.
type DuplicatePolicy string

const (
	// AllowDuplicates issues a new attestation on every invocation.
	AllowDuplicates DuplicatePolicy = "allow"
	// SkipIfAttested checks the ledger first and skips recipients that already hold one.
	SkipIfAttested DuplicatePolicy = "skip-if-attested"
)

// ParseDuplicatePolicy converts a string to a DuplicatePolicy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AllowDuplicates:
		return AllowDuplicates, nil
	case SkipIfAttested:
		return SkipIfAttested, nil
	default:
		return "", fmt.Errorf("invalid duplicate policy: %s", s)
	}
}

// Config holds configuration for the eligibility and attestation pipeline.
type Config struct {
	// RPCURL is the ledger JSON-RPC endpoint.
	RPCURL string
	// ChainID is the chain ID used to sign transactions.
	ChainID int64
	// ClassContract is the ERC-1155 contract holding the class tokens a holder must own.
	ClassContract string
	// AttestationContract issues the derived attestation token.
	AttestationContract string
	// ApprovalContract issues the final approval credential.
	ApprovalContract string

	// ScanUpperBound is the last token ID probed on the class contract.
	ScanUpperBound uint64
	// LocateUpperBound is the last token ID probed on the attestation and approval contracts.
	LocateUpperBound uint64
	// ScanWorkers bounds concurrent ledger reads during a scan.
	ScanWorkers int
	// ScanPageSize is the number of IDs scheduled per page.
	ScanPageSize uint64
	// FromBlock is the first block searched for transfer events, usually the deployment
	// block of the class contract.
	FromBlock uint64

	// Cutoff is the instant every class token must have been minted before.
	Cutoff time.Time
	// ProofSetSize is both the minimum token count and the attestation proof-set length.
	ProofSetSize int

	// IPFSGateway is the HTTP prefix used to dereference ipfs:// URIs.
	IPFSGateway string
	// MetadataTimeout bounds each metadata HTTP request.
	MetadataTimeout time.Duration

	// GasLimit for issuance transactions. Defaults to DefaultGasLimit.
	GasLimit uint64
	// GasPrice in wei. Nil lets the node suggest one.
	GasPrice *big.Int

	// Recipients receive the attestation token, in order.
	Recipients []string
	// Reviewers may approve attestations. Empty disables the check.
	Reviewers []string
	// DuplicatePolicy applies across issuance invocations.
	DuplicatePolicy DuplicatePolicy

	// SignerKey is a hex private key for local signing.
	SignerKey string
	// RemoteSignerURL selects the remote signer when set.
	RemoteSignerURL string
	// RemoteSignerAPIKey is sent as x-api-key to the remote signer.
	RemoteSignerAPIKey string
	// RemoteSignerAddress is the address the remote signer signs for.
	RemoteSignerAddress string

	// JournalDSN is a postgres DSN for the issuance journal. Empty keeps it in memory.
	JournalDSN string

	// LogLevel is a zap level name.
	LogLevel string
	// LogDevelopment switches to the console encoder.
	LogDevelopment bool
}

// Validate validates the Config to ensure required fields are present and valid.
//
// Checks:
//   - ClassContract, AttestationContract and ApprovalContract are valid hex addresses
//   - ChainID is greater than 0
//   - Recipients and Reviewers are valid hex addresses
//
// Returns an error if validation fails.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc url is required")
	}

	if c.ChainID <= 0 {
		return errors.New("chain ID must be greater than 0")
	}

	for name, addr := range map[string]string{
		"class contract":       c.ClassContract,
		"attestation contract": c.AttestationContract,
		"approval contract":    c.ApprovalContract,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %q", name, addr)
		}
	}

	for _, r := range c.Recipients {
		if !common.IsHexAddress(r) {
			return fmt.Errorf("invalid recipient address: %q", r)
		}
	}

	for _, r := range c.Reviewers {
		if !common.IsHexAddress(r) {
			return fmt.Errorf("invalid reviewer address: %q", r)
		}
	}

	if c.RemoteSignerURL != "" && !common.IsHexAddress(c.RemoteSignerAddress) {
		return fmt.Errorf("invalid remote signer address: %q", c.RemoteSignerAddress)
	}

	if c.ProofSetSize < 0 {
		return errors.New("proof set size must not be negative")
	}

	if _, err := ParseDuplicatePolicy(string(c.DuplicatePolicy)); err != nil {
		return err
	}

	return nil
}

// Standardize sets default values for optional Config fields.
func (c *Config) Standardize() {
	if c.ScanUpperBound == 0 {
		c.ScanUpperBound = DefaultScanUpperBound
	}
	if c.LocateUpperBound == 0 {
		c.LocateUpperBound = DefaultLocateUpperBound
	}
	if c.ScanWorkers <= 0 {
		c.ScanWorkers = DefaultScanWorkers
	}
	if c.ScanPageSize == 0 {
		c.ScanPageSize = DefaultScanPageSize
	}
	if c.Cutoff.IsZero() {
		c.Cutoff = DefaultCutoff
	}
	if c.ProofSetSize == 0 {
		c.ProofSetSize = DefaultProofSetSize
	}
	if c.IPFSGateway == "" {
		c.IPFSGateway = DefaultIPFSGateway
	}
	if c.MetadataTimeout == 0 {
		c.MetadataTimeout = DefaultMetadataTimeout
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = AllowDuplicates
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ClassAddress returns the class contract as a common.Address.
func (c *Config) ClassAddress() common.Address { return common.HexToAddress(c.ClassContract) }

// AttestationAddress returns the attestation contract as a common.Address.
func (c *Config) AttestationAddress() common.Address {
	return common.HexToAddress(c.AttestationContract)
}

// ApprovalAddress returns the approval contract as a common.Address.
func (c *Config) ApprovalAddress() common.Address { return common.HexToAddress(c.ApprovalContract) }

// RecipientAddresses returns the configured recipients in order.
func (c *Config) RecipientAddresses() []common.Address {
	return toAddresses(c.Recipients)
}

// ReviewerAddresses returns the configured reviewers.
func (c *Config) ReviewerAddresses() []common.Address {
	return toAddresses(c.Reviewers)
}

func toAddresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
