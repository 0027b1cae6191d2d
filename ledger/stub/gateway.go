// Package stub provides an in-memory ledger.Gateway for tests.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-attestation-sdk/ledger"
)

type tokenKey struct {
	contract common.Address
	tokenID  uint64
}

type balanceKey struct {
	contract common.Address
	holder   common.Address
	tokenID  uint64
}

type failKey struct {
	method  string
	tokenID uint64
}

// Gateway implements ledger.Gateway over in-memory maps.
//
// Minting calls submitted through Submit create tokens, balances and transfer events,
// so a later read observes the write.
type Gateway struct {
	mu sync.Mutex

	balances     map[balanceKey]*big.Int
	uris         map[tokenKey]string
	classes      map[tokenKey]ledger.ClassData
	attestations map[tokenKey]ledger.AttestationData
	approvals    map[tokenKey]ledger.ApprovalData
	events       map[common.Address][]ledger.TransferEvent
	blockTimes   map[uint64]time.Time
	nextToken    map[common.Address]uint64

	tokenErrs     map[failKey]error
	methodErrs    map[string]error
	recipientErrs map[common.Address]error

	signer    *common.Address
	head      uint64
	txCounter uint64
	submitted []ledger.Call
	reads     map[string]int
}

var _ ledger.Gateway = (*Gateway)(nil)

// New creates an empty stub gateway with the head at block 1.
func New() *Gateway {
	return &Gateway{
		balances:      make(map[balanceKey]*big.Int),
		uris:          make(map[tokenKey]string),
		classes:       make(map[tokenKey]ledger.ClassData),
		attestations:  make(map[tokenKey]ledger.AttestationData),
		approvals:     make(map[tokenKey]ledger.ApprovalData),
		events:        make(map[common.Address][]ledger.TransferEvent),
		blockTimes:    make(map[uint64]time.Time),
		nextToken:     make(map[common.Address]uint64),
		tokenErrs:     make(map[failKey]error),
		methodErrs:    make(map[string]error),
		recipientErrs: make(map[common.Address]error),
		reads:         make(map[string]int),
		head:          1,
	}
}

// SetSigner sets the address returned by SignerAddress.
func (g *Gateway) SetSigner(addr common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signer = &addr
}

// SetBalance sets the balance of holder for tokenID.
func (g *Gateway) SetBalance(c ledger.Contract, holder common.Address, tokenID uint64, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[balanceKey{c.Address, holder, tokenID}] = big.NewInt(amount)
}

// SetURI sets the raw metadata URI of tokenID.
func (g *Gateway) SetURI(c ledger.Contract, tokenID uint64, uri string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uris[tokenKey{c.Address, tokenID}] = uri
}

// SetClassData sets the class metadata of tokenID.
func (g *Gateway) SetClassData(c ledger.Contract, tokenID uint64, data ledger.ClassData) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.classes[tokenKey{c.Address, tokenID}] = data
}

// SetAttestationData sets the content of an attestation token.
func (g *Gateway) SetAttestationData(c ledger.Contract, tokenID uint64, data ledger.AttestationData) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attestations[tokenKey{c.Address, tokenID}] = data
}

// SetApprovalData sets the content of an approval token.
func (g *Gateway) SetApprovalData(c ledger.Contract, tokenID uint64, data ledger.ApprovalData) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approvals[tokenKey{c.Address, tokenID}] = data
}

// SetBlockTime sets the timestamp of a block and moves the head forward if needed.
func (g *Gateway) SetBlockTime(block uint64, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blockTimes[block] = ts.UTC()
	if block > g.head {
		g.head = block
	}
}

// AddEvent appends a transfer event on contract c.
func (g *Gateway) AddEvent(c ledger.Contract, ev ledger.TransferEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[c.Address] = append(g.events[c.Address], ev)
}

// Mint gives holder one unit of tokenID with a mint event at block, timestamped ts.
func (g *Gateway) Mint(c ledger.Contract, holder common.Address, tokenID uint64, block uint64, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mintLocked(c.Address, holder, tokenID, block, ts)
}

// Transfer moves one unit of tokenID from one holder to another at block.
func (g *Gateway) Transfer(c ledger.Contract, from, to common.Address, tokenID uint64, block uint64, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addBalanceLocked(c.Address, from, tokenID, -1)
	g.addBalanceLocked(c.Address, to, tokenID, 1)
	g.blockTimes[block] = ts.UTC()
	if block > g.head {
		g.head = block
	}
	g.events[c.Address] = append(g.events[c.Address], ledger.TransferEvent{
		From:        from,
		To:          to,
		TokenID:     tokenID,
		BlockNumber: block,
		LogIndex:    uint(len(g.events[c.Address])),
		TxHash:      g.nextTxHashLocked(),
	})
}

// FailToken makes method fail with err for tokenID.
func (g *Gateway) FailToken(method string, tokenID uint64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenErrs[failKey{method, tokenID}] = err
}

// FailMethod makes every call of method fail with err.
func (g *Gateway) FailMethod(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.methodErrs[method] = err
}

// FailRecipient makes Submit fail with err for calls minting to recipient.
func (g *Gateway) FailRecipient(recipient common.Address, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recipientErrs[recipient] = err
}

// Submitted returns the calls accepted by Submit, in order.
func (g *Gateway) Submitted() []ledger.Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ledger.Call, len(g.submitted))
	copy(out, g.submitted)
	return out
}

// Reads returns how many times method was called.
func (g *Gateway) Reads(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads[method]
}

// BlockTimestamp returns the timestamp of blockNumber.
func (g *Gateway) BlockTimestamp(_ context.Context, blockNumber uint64) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("blockTimestamp", blockNumber); err != nil {
		return time.Time{}, err
	}
	ts, ok := g.blockTimes[blockNumber]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: block %d not found", ledger.ErrUnavailable, blockNumber)
	}
	return ts, nil
}

// BalanceOf returns the balance of holder for tokenID; unknown tokens have zero balance.
func (g *Gateway) BalanceOf(_ context.Context, c ledger.Contract, holder common.Address, tokenID uint64) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("balanceOf", tokenID); err != nil {
		return nil, err
	}
	if b, ok := g.balances[balanceKey{c.Address, holder, tokenID}]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// URI returns the raw metadata URI of tokenID.
func (g *Gateway) URI(_ context.Context, c ledger.Contract, tokenID uint64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("uri", tokenID); err != nil {
		return "", err
	}
	uri, ok := g.uris[tokenKey{c.Address, tokenID}]
	if !ok {
		return "", fmt.Errorf("%w: uri %d", ledger.ErrTokenNotFound, tokenID)
	}
	return uri, nil
}

// ClassData returns the class metadata of tokenID.
func (g *Gateway) ClassData(_ context.Context, c ledger.Contract, tokenID uint64) (ledger.ClassData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("classData", tokenID); err != nil {
		return ledger.ClassData{}, err
	}
	data, ok := g.classes[tokenKey{c.Address, tokenID}]
	if !ok {
		return ledger.ClassData{}, fmt.Errorf("%w: classData %d", ledger.ErrTokenNotFound, tokenID)
	}
	return data, nil
}

// AttestationData returns the content of an attestation token.
func (g *Gateway) AttestationData(_ context.Context, c ledger.Contract, tokenID uint64) (ledger.AttestationData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("attestationData", tokenID); err != nil {
		return ledger.AttestationData{}, err
	}
	data, ok := g.attestations[tokenKey{c.Address, tokenID}]
	if !ok {
		return ledger.AttestationData{}, fmt.Errorf("%w: attestationData %d", ledger.ErrTokenNotFound, tokenID)
	}
	return data, nil
}

// ApprovalData returns the content of an approval token.
func (g *Gateway) ApprovalData(_ context.Context, c ledger.Contract, tokenID uint64) (ledger.ApprovalData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("approvalData", tokenID); err != nil {
		return ledger.ApprovalData{}, err
	}
	data, ok := g.approvals[tokenKey{c.Address, tokenID}]
	if !ok {
		return ledger.ApprovalData{}, fmt.Errorf("%w: approvalData %d", ledger.ErrTokenNotFound, tokenID)
	}
	return data, nil
}

// TransferEvents returns the transfers involving holder, ordered by block then log index.
func (g *Gateway) TransferEvents(_ context.Context, c ledger.Contract, holder common.Address, tokenID *uint64) ([]ledger.TransferEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var id uint64
	if tokenID != nil {
		id = *tokenID
	}
	if err := g.failLocked("transferEvents", id); err != nil {
		return nil, err
	}

	var out []ledger.TransferEvent
	for _, ev := range g.events[c.Address] {
		if ev.From != holder && ev.To != holder {
			continue
		}
		if tokenID != nil && ev.TokenID != *tokenID {
			continue
		}
		out = append(out, ev)
	}
	ledger.SortEvents(out)
	return out, nil
}

// LatestBlock returns the current head block number.
func (g *Gateway) LatestBlock(context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failLocked("latestBlock", 0); err != nil {
		return 0, err
	}
	return g.head, nil
}

// SignerAddress returns the configured signer address.
func (g *Gateway) SignerAddress() (common.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signer == nil {
		return common.Address{}, ledger.ErrNoSigner
	}
	return *g.signer, nil
}

// Submit applies mintAttestation and mintApproval calls to the in-memory state.
func (g *Gateway) Submit(_ context.Context, call ledger.Call) (*ledger.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.signer == nil {
		return nil, ledger.ErrNoSigner
	}
	if err := g.methodErrs[call.Method]; err != nil {
		return nil, err
	}

	var (
		to    common.Address
		apply func(tokenID uint64)
	)
	switch call.Method {
	case ledger.MethodMintAttestation:
		recipient, data, ok := ledger.DecodeMintAttestation(call)
		if !ok {
			return nil, fmt.Errorf("malformed %s call", call.Method)
		}
		to = recipient
		apply = func(tokenID uint64) {
			g.attestations[tokenKey{call.Contract.Address, tokenID}] = data
		}
	case ledger.MethodMintApproval:
		recipient, data, ok := ledger.DecodeMintApproval(call)
		if !ok {
			return nil, fmt.Errorf("malformed %s call", call.Method)
		}
		to = recipient
		apply = func(tokenID uint64) {
			g.approvals[tokenKey{call.Contract.Address, tokenID}] = data
		}
	default:
		return nil, fmt.Errorf("unsupported method %q", call.Method)
	}

	if err := g.recipientErrs[to]; err != nil {
		return nil, err
	}

	g.nextToken[call.Contract.Address]++
	tokenID := g.nextToken[call.Contract.Address]
	apply(tokenID)

	block := g.head + 1
	ts := time.Unix(1_750_000_000, 0).UTC()
	if prev, ok := g.blockTimes[g.head]; ok {
		ts = prev.Add(12 * time.Second)
	}
	txHash := g.mintLocked(call.Contract.Address, to, tokenID, block, ts)
	g.submitted = append(g.submitted, call)

	return &ledger.Receipt{TxHash: txHash, BlockNumber: block}, nil
}

func (g *Gateway) failLocked(method string, tokenID uint64) error {
	g.reads[method]++
	if err := g.methodErrs[method]; err != nil {
		return err
	}
	return g.tokenErrs[failKey{method, tokenID}]
}

func (g *Gateway) mintLocked(contract, holder common.Address, tokenID, block uint64, ts time.Time) common.Hash {
	g.addBalanceLocked(contract, holder, tokenID, 1)
	g.blockTimes[block] = ts.UTC()
	if block > g.head {
		g.head = block
	}
	if tokenID > g.nextToken[contract] {
		g.nextToken[contract] = tokenID
	}

	txHash := g.nextTxHashLocked()
	g.events[contract] = append(g.events[contract], ledger.TransferEvent{
		To:          holder,
		TokenID:     tokenID,
		BlockNumber: block,
		LogIndex:    uint(len(g.events[contract])),
		TxHash:      txHash,
	})
	return txHash
}

func (g *Gateway) addBalanceLocked(contract, holder common.Address, tokenID uint64, delta int64) {
	k := balanceKey{contract, holder, tokenID}
	b, ok := g.balances[k]
	if !ok {
		b = big.NewInt(0)
	}
	g.balances[k] = new(big.Int).Add(b, big.NewInt(delta))
}

func (g *Gateway) nextTxHashLocked() common.Hash {
	g.txCounter++
	return common.BigToHash(new(big.Int).SetUint64(g.txCounter))
}
