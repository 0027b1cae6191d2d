package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MethodMintAttestation = "mintAttestation"
	MethodMintApproval    = "mintApproval"
)

// ProofTuple is the ABI shape of a proof set entry.
type ProofTuple struct {
	Id              *big.Int //nolint:revive // field name must match the ABI component.
	ContractAddress common.Address
	Topic           string
}

func (t ProofTuple) entry() ProofEntry {
	e := ProofEntry{ContractAddress: t.ContractAddress, Topic: t.Topic}
	if t.Id != nil && t.Id.IsUint64() {
		e.TokenID = t.Id.Uint64()
	}
	return e
}

// MintAttestationCall builds the call that mints one attestation token to recipient.
func MintAttestationCall(c Contract, recipient common.Address, data AttestationData) Call {
	proofs := make([]ProofTuple, 0, len(data.ProofSet))
	for _, p := range data.ProofSet {
		proofs = append(proofs, ProofTuple{
			Id:              new(big.Int).SetUint64(p.TokenID),
			ContractAddress: p.ContractAddress,
			Topic:           p.Topic,
		})
	}

	return Call{
		Contract: c,
		Method:   MethodMintAttestation,
		Args:     []interface{}{recipient, data.IssuedAt, data.SubjectHolder, data.Issuer, proofs},
	}
}

// MintApprovalCall builds the call that mints one approval credential to recipient.
func MintApprovalCall(c Contract, recipient common.Address, data ApprovalData) Call {
	return Call{
		Contract: c,
		Method:   MethodMintApproval,
		Args: []interface{}{
			recipient,
			data.Grade,
			data.Comment,
			new(big.Int).SetUint64(data.AttestationID),
		},
	}
}

// DecodeMintAttestation reverses MintAttestationCall.
func DecodeMintAttestation(call Call) (common.Address, AttestationData, bool) {
	if call.Method != MethodMintAttestation || len(call.Args) != 5 {
		return common.Address{}, AttestationData{}, false
	}
	to, ok1 := call.Args[0].(common.Address)
	issuedAt, ok2 := call.Args[1].(string)
	subject, ok3 := call.Args[2].(string)
	issuer, ok4 := call.Args[3].(common.Address)
	proofs, ok5 := call.Args[4].([]ProofTuple)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return common.Address{}, AttestationData{}, false
	}

	data := AttestationData{IssuedAt: issuedAt, SubjectHolder: subject, Issuer: issuer}
	for _, p := range proofs {
		data.ProofSet = append(data.ProofSet, p.entry())
	}
	return to, data, true
}

// DecodeMintApproval reverses MintApprovalCall.
func DecodeMintApproval(call Call) (common.Address, ApprovalData, bool) {
	if call.Method != MethodMintApproval || len(call.Args) != 4 {
		return common.Address{}, ApprovalData{}, false
	}
	to, ok1 := call.Args[0].(common.Address)
	grade, ok2 := call.Args[1].(string)
	comment, ok3 := call.Args[2].(string)
	id, ok4 := call.Args[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !id.IsUint64() {
		return common.Address{}, ApprovalData{}, false
	}
	return to, ApprovalData{Grade: grade, Comment: comment, Subject: to, AttestationID: id.Uint64()}, true
}
