package ledger

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed artifacts/class.json
	classArtifact []byte
	//go:embed artifacts/attestation.json
	attestationArtifact []byte
	//go:embed artifacts/approval.json
	approvalArtifact []byte
)

type parsedABI struct {
	once sync.Once
	abi  abi.ABI
	err  error
}

var abis = map[ContractKind]*parsedABI{
	ClassContract:       {},
	AttestationContract: {},
	ApprovalContract:    {},
}

func artifactFor(kind ContractKind) []byte {
	switch kind {
	case ClassContract:
		return classArtifact
	case AttestationContract:
		return attestationArtifact
	case ApprovalContract:
		return approvalArtifact
	default:
		return nil
	}
}

// LoadABI loads and parses the ABI of a contract kind exactly once.
//
// The ABIs are embedded at compile time as Hardhat artifacts and parsed lazily on first use.
func LoadABI(kind ContractKind) (abi.ABI, error) {
	p, ok := abis[kind]
	if !ok {
		return abi.ABI{}, fmt.Errorf("unknown contract kind: %d", kind)
	}

	p.once.Do(func() {
		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(artifactFor(kind), &artifact); err != nil {
			p.err = fmt.Errorf("failed to unmarshal %s artifact JSON: %w", kind, err)
			return
		}
		p.abi, p.err = abi.JSON(strings.NewReader(string(artifact.ABI)))
	})

	return p.abi, p.err
}
