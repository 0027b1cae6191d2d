// Package ledger is the only boundary between the pipeline and durable state.
//
// It exposes balance queries, metadata URIs, class and attestation data, transfer
// event history, block timestamps and transaction submission for the three contracts
// the pipeline works with:
//   - the class contract (ERC-1155 tokens a holder must own)
//   - the attestation contract (derived proof-of-attendance tokens)
//   - the approval contract (final credentials issued by a reviewer)
//
// Read failures for a single token ID are reported as ErrTokenNotFound and are
// recoverable by the caller. Transport failures are reported as ErrUnavailable.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTokenNotFound is returned when a per-token read fails because the token does not exist
	// or the contract reverted for that ID.
	ErrTokenNotFound = errors.New("token not found")
	// ErrUnavailable is returned when the ledger could not be reached.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrReverted is returned when a submitted transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")
	// ErrNoSigner is returned when a transaction is submitted without a configured signer.
	ErrNoSigner = errors.New("no signer configured")
)

// ContractKind identifies which ABI a contract address speaks.
type ContractKind uint8

const (
	ClassContract ContractKind = iota
	AttestationContract
	ApprovalContract
)

func (k ContractKind) String() string {
	switch k {
	case ClassContract:
		return "class"
	case AttestationContract:
		return "attestation"
	case ApprovalContract:
		return "approval"
	default:
		return "unknown"
	}
}

// Contract is a contract address together with its kind.
type Contract struct {
	Kind    ContractKind
	Address common.Address
}

// TransferEvent is one ERC-1155 transfer of a single token ID. TransferBatch logs are
// exploded into one TransferEvent per ID.
type TransferEvent struct {
	From        common.Address
	To          common.Address
	TokenID     uint64
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
}

// ClassData is the class metadata stored on-chain for a class token.
type ClassData struct {
	Topic         string
	ClassIndex    string
	SubjectHolder string
}

// ProofEntry references one source token inside an attestation.
type ProofEntry struct {
	TokenID         uint64
	ContractAddress common.Address
	Topic           string
}

// AttestationData is the structured content of an attestation token.
type AttestationData struct {
	IssuedAt      string
	SubjectHolder string
	Issuer        common.Address
	ProofSet      []ProofEntry
}

// ApprovalData is the structured content of an approval credential.
type ApprovalData struct {
	Grade         string
	Comment       string
	Subject       common.Address
	AttestationID uint64
}

// Call describes one state-changing contract method invocation.
type Call struct {
	Contract Contract
	Method   string
	Args     []interface{}
}

// Receipt is the confirmation of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// BlockClock resolves block numbers to block timestamps.
type BlockClock interface {
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Gateway is the read/write interface to the ledger.
type Gateway interface {
	BlockClock

	// BalanceOf returns the balance of holder for tokenID.
	BalanceOf(ctx context.Context, c Contract, holder common.Address, tokenID uint64) (*big.Int, error)
	// URI returns the raw metadata URI of tokenID.
	URI(ctx context.Context, c Contract, tokenID uint64) (string, error)
	// ClassData returns the class metadata of a class token.
	ClassData(ctx context.Context, c Contract, tokenID uint64) (ClassData, error)
	// AttestationData returns the content of an attestation token.
	AttestationData(ctx context.Context, c Contract, tokenID uint64) (AttestationData, error)
	// ApprovalData returns the content of an approval token.
	ApprovalData(ctx context.Context, c Contract, tokenID uint64) (ApprovalData, error)
	// TransferEvents returns the transfers where holder is the sender or the receiver,
	// ordered by block number then log index. A nil tokenID returns every token.
	TransferEvents(ctx context.Context, c Contract, holder common.Address, tokenID *uint64) ([]TransferEvent, error)
	// LatestBlock returns the current head block number.
	LatestBlock(ctx context.Context) (uint64, error)
	// Submit signs and sends the call, then blocks until it is mined.
	Submit(ctx context.Context, call Call) (*Receipt, error)
	// SignerAddress returns the address transactions are sent from.
	SignerAddress() (common.Address, error)
}
