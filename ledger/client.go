package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pilacorp/go-attestation-sdk/signer"
)

// DefaultGasLimit is the default gas limit for issuance transactions.
const DefaultGasLimit = 500000

// revertErrorCode is the JSON-RPC error code nodes use for execution reverts.
const revertErrorCode = 3

// Backend is the subset of an Ethereum client the gateway needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	HeaderSource
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds configuration for the ledger Client.
type Config struct {
	// RPCURL is the blockchain RPC endpoint URL.
	RPCURL string
	// ChainID is the blockchain network chain ID.
	// Required and must be greater than 0.
	ChainID int64
	// GasPrice is the gas price for transactions (in wei).
	// Nil lets the node suggest fees.
	GasPrice *big.Int
	// GasLimit is the gas limit for transactions.
	// Defaults to DefaultGasLimit if not set.
	GasLimit uint64
	// FromBlock is the first block searched for transfer events.
	FromBlock uint64
	// ClockEntries bounds the block timestamp cache.
	ClockEntries int64
}

// Validate validates the Config to ensure required fields are present and valid.
func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return errors.New("chain ID must be greater than 0, it's required")
	}
	return nil
}

// Standardize sets default values for optional Config fields.
func (c *Config) Standardize() {
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.ClockEntries == 0 {
		c.ClockEntries = DefaultClockEntries
	}
}

// Client implements Gateway on top of go-ethereum.
type Client struct {
	backend Backend
	cfg     *Config
	signer  signer.SignerProvider
	clock   *CachedClock
	closeFn func()
}

var _ Gateway = (*Client)(nil)

// Dial connects to cfg.RPCURL and returns a Client.
//
// txSigner may be nil for read-only use; Submit then fails with ErrNoSigner.
func Dial(ctx context.Context, cfg *Config, txSigner signer.SignerProvider) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", ErrUnavailable, cfg.RPCURL, err)
	}

	c, err := NewClient(ec, cfg, txSigner)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closeFn = ec.Close
	return c, nil
}

// NewClient creates a Client over an existing backend.
func NewClient(backend Backend, cfg *Config, txSigner signer.SignerProvider) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Standardize()

	clock, err := NewCachedClock(backend, cfg.ClockEntries)
	if err != nil {
		return nil, err
	}

	return &Client{
		backend: backend,
		cfg:     cfg,
		signer:  txSigner,
		clock:   clock,
	}, nil
}

// Close releases the RPC connection and the timestamp cache.
func (c *Client) Close() {
	c.clock.Close()
	if c.closeFn != nil {
		c.closeFn()
	}
}

// BalanceOf returns the balance of holder for tokenID.
func (c *Client) BalanceOf(ctx context.Context, ct Contract, holder common.Address, tokenID uint64) (*big.Int, error) {
	out, err := c.call(ctx, ct, "balanceOf", holder, new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, err
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type: %T", out[0])
	}
	return balance, nil
}

// URI returns the raw metadata URI of tokenID.
func (c *Client) URI(ctx context.Context, ct Contract, tokenID uint64) (string, error) {
	out, err := c.call(ctx, ct, "uri", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return "", err
	}

	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected output type: %T", out[0])
	}
	return uri, nil
}

// ClassData returns the class metadata of a class token.
func (c *Client) ClassData(ctx context.Context, ct Contract, tokenID uint64) (ClassData, error) {
	out, err := c.call(ctx, ct, "classData", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return ClassData{}, err
	}
	if len(out) != 3 {
		return ClassData{}, fmt.Errorf("classData returned %d values", len(out))
	}

	classIndex, _ := out[0].(*big.Int)
	topic, _ := out[1].(string)
	student, _ := out[2].(string)

	data := ClassData{Topic: topic, SubjectHolder: student}
	if classIndex != nil {
		data.ClassIndex = classIndex.String()
	}
	return data, nil
}

// AttestationData returns the content of an attestation token.
func (c *Client) AttestationData(ctx context.Context, ct Contract, tokenID uint64) (AttestationData, error) {
	out, err := c.call(ctx, ct, "attestationData", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return AttestationData{}, err
	}
	if len(out) != 4 {
		return AttestationData{}, fmt.Errorf("attestationData returned %d values", len(out))
	}

	issuedAt, _ := out[0].(string)
	subject, _ := out[1].(string)
	issuer, _ := out[2].(common.Address)
	tuples := *abi.ConvertType(out[3], new([]ProofTuple)).(*[]ProofTuple)

	data := AttestationData{
		IssuedAt:      issuedAt,
		SubjectHolder: subject,
		Issuer:        issuer,
		ProofSet:      make([]ProofEntry, 0, len(tuples)),
	}
	for _, t := range tuples {
		data.ProofSet = append(data.ProofSet, t.entry())
	}
	return data, nil
}

// ApprovalData returns the content of an approval token.
func (c *Client) ApprovalData(ctx context.Context, ct Contract, tokenID uint64) (ApprovalData, error) {
	out, err := c.call(ctx, ct, "approvalData", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return ApprovalData{}, err
	}
	if len(out) != 4 {
		return ApprovalData{}, fmt.Errorf("approvalData returned %d values", len(out))
	}

	grade, _ := out[0].(string)
	comment, _ := out[1].(string)
	subject, _ := out[2].(common.Address)
	attestationID, _ := out[3].(*big.Int)

	data := ApprovalData{Grade: grade, Comment: comment, Subject: subject}
	if attestationID != nil && attestationID.IsUint64() {
		data.AttestationID = attestationID.Uint64()
	}
	return data, nil
}

// TransferEvents returns the transfers where holder is sender or receiver.
//
// Two filtered log queries are issued, one on the from topic and one on the to topic,
// then merged, deduplicated and ordered.
func (c *Client) TransferEvents(ctx context.Context, ct Contract, holder common.Address, tokenID *uint64) ([]TransferEvent, error) {
	contractABI, err := LoadABI(ct.Kind)
	if err != nil {
		return nil, err
	}

	holderTopic := common.BytesToHash(holder.Bytes())
	base := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.cfg.FromBlock),
		Addresses: []common.Address{ct.Address},
	}

	fromQuery := base
	fromQuery.Topics = [][]common.Hash{transferTopics(contractABI), nil, {holderTopic}}
	toQuery := base
	toQuery.Topics = [][]common.Hash{transferTopics(contractABI), nil, nil, {holderTopic}}

	var logs []types.Log
	for _, q := range []ethereum.FilterQuery{fromQuery, toQuery} {
		found, err := c.backend.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%w: filter logs: %v", ErrUnavailable, err)
		}
		logs = append(logs, found...)
	}

	return decodeTransferLogs(contractABI, logs, tokenID)
}

// BlockTimestamp returns the timestamp of blockNumber.
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	return c.clock.BlockTimestamp(ctx, blockNumber)
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrUnavailable, err)
	}
	return n, nil
}

// SignerAddress returns the address transactions are sent from.
func (c *Client) SignerAddress() (common.Address, error) {
	if c.signer == nil {
		return common.Address{}, ErrNoSigner
	}
	return common.HexToAddress(c.signer.GetAddress()), nil
}

// Submit signs and sends the call with the pending nonce of the signer, then waits
// until it is mined. A mined transaction with a failed status returns ErrReverted.
func (c *Client) Submit(ctx context.Context, call Call) (*Receipt, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}

	bc, err := c.boundContract(call.Contract)
	if err != nil {
		return nil, err
	}

	auth, err := c.getTransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := bc.Transact(auth, call.Method, call.Args...)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrReverted, call.Method, err)
		}
		return nil, fmt.Errorf("failed to send %s tx: %w", call.Method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", ErrUnavailable, tx.Hash().Hex(), err)
	}

	result := &Receipt{TxHash: receipt.TxHash}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return result, nil
}

// getTransactOpts creates transaction authorization options for the configured signer.
func (c *Client) getTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	from := common.HexToAddress(c.signer.GetAddress())

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get nonce: %v", ErrUnavailable, err)
	}

	return &bind.TransactOpts{
		From:     from,
		Nonce:    new(big.Int).SetUint64(nonce),
		Value:    big.NewInt(0),
		GasLimit: c.cfg.GasLimit,
		GasPrice: c.cfg.GasPrice,
		Context:  ctx,
		Signer:   signer.TxSignerFn(big.NewInt(c.cfg.ChainID), c.signer),
	}, nil
}

func (c *Client) boundContract(ct Contract) (*bind.BoundContract, error) {
	contractABI, err := LoadABI(ct.Kind)
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(ct.Address, contractABI, c.backend, c.backend, c.backend), nil
}

func (c *Client) call(ctx context.Context, ct Contract, method string, args ...interface{}) ([]interface{}, error) {
	bc, err := c.boundContract(ct)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := bc.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, classifyCallError(method, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no data", method)
	}
	return out, nil
}

// classifyCallError separates per-token reverts from transport failures.
func classifyCallError(method string, err error) error {
	if isRevert(err) {
		return fmt.Errorf("%w: %s: %v", ErrTokenNotFound, method, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
}

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
