package attestation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

// DefaultProofSetSize is the fixed number of source tokens referenced by an attestation.
const DefaultProofSetSize = 10

// DateLayout is the layout of FormData.Date and Payload.IssuedAt.
const DateLayout = "2006-01-02"

// FormData is the information the holder submits with an attestation request.
type FormData struct {
	GivenName  string
	FamilyName string
	// Date is the issuance date, YYYY-MM-DD.
	Date string
}

// Validate checks that both names are set and the date is well formed.
func (f FormData) Validate() error {
	if strings.TrimSpace(f.GivenName) == "" {
		return fmt.Errorf("%w: given name is required", ErrPrecondition)
	}
	if strings.TrimSpace(f.FamilyName) == "" {
		return fmt.Errorf("%w: family name is required", ErrPrecondition)
	}
	if _, err := time.Parse(DateLayout, f.Date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrPrecondition, f.Date)
	}
	return nil
}

// SubjectHolder returns "GivenName FamilyName".
func (f FormData) SubjectHolder() string {
	return strings.TrimSpace(f.GivenName) + " " + strings.TrimSpace(f.FamilyName)
}

// Payload is the content of one attestation token.
type Payload struct {
	IssuedAt      string
	SubjectHolder string
	Issuer        common.Address
	ProofSet      []ledger.ProofEntry
}

// BuildPayload projects the first size records of inv, in scan order, into a Payload.
func BuildPayload(inv scanner.Inventory, form FormData, size int) (Payload, error) {
	if size <= 0 {
		size = DefaultProofSetSize
	}
	if len(inv.Records) < size {
		return Payload{}, fmt.Errorf("%w: %d tokens in inventory, %d required", ErrPrecondition, len(inv.Records), size)
	}
	if err := form.Validate(); err != nil {
		return Payload{}, err
	}

	proofs := make([]ledger.ProofEntry, 0, size)
	for _, rec := range inv.Records[:size] {
		topic := rec.Topic
		if topic == scanner.Unknown {
			topic = ""
		}
		proofs = append(proofs, ledger.ProofEntry{
			TokenID:         rec.TokenID,
			ContractAddress: inv.Contract,
			Topic:           topic,
		})
	}

	return Payload{
		IssuedAt:      form.Date,
		SubjectHolder: form.SubjectHolder(),
		Issuer:        inv.Holder,
		ProofSet:      proofs,
	}, nil
}

// AttestationData converts the payload into its on-chain form.
func (p Payload) AttestationData() ledger.AttestationData {
	proofs := make([]ledger.ProofEntry, len(p.ProofSet))
	copy(proofs, p.ProofSet)
	return ledger.AttestationData{
		IssuedAt:      p.IssuedAt,
		SubjectHolder: p.SubjectHolder,
		Issuer:        p.Issuer,
		ProofSet:      proofs,
	}
}
