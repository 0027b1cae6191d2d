package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-attestation-sdk/approval"
	"github.com/pilacorp/go-attestation-sdk/attestation"
	"github.com/pilacorp/go-attestation-sdk/eligibility"
	"github.com/pilacorp/go-attestation-sdk/journal/memory"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/ledger/stub"
	"github.com/pilacorp/go-attestation-sdk/pipeline"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

// Example: run the whole flow against the in-memory ledger
// This mirrors the test cases in pipeline_test.go and workflow_test.go

var (
	testHolder   = common.HexToAddress("0x78e43d3bd308b0522c8f6fcfb4785d9b841556c8")
	testReviewer = common.HexToAddress("0x084ce14ef7c6e76a5ff3d58c160de7e1d385d9ee")
	classAddr    = common.HexToAddress("0x00000000000000000000000000000000000c1a55")
	attestAddr   = common.HexToAddress("0x0000000000000000000000000000000000a77e57")
	approveAddr  = common.HexToAddress("0x00000000000000000000000000000000000a9907")
)

func main() {
	ctx := context.Background()
	gw := newLedger(12)

	fmt.Println("=== Example: Eligibility, attestation and approval ===")

	// Example 1: Check eligibility
	fmt.Println("\n-- Example 1: Check eligibility --")
	p := newPipeline(gw)
	checkExample(ctx, p)

	// Example 2: Issue the attestation to the holder
	fmt.Println("\n-- Example 2: Issue attestation --")
	issueExample(ctx, p)

	// Example 3: Locate and approve it as the reviewer
	fmt.Println("\n-- Example 3: Locate and approve --")
	approveExample(ctx, gw)
}

// newLedger mints n class tokens to the holder well before the cutoff.
func newLedger(n uint64) *stub.Gateway {
	gw := stub.New()
	gw.SetSigner(testHolder)

	classes := ledger.Contract{Kind: ledger.ClassContract, Address: classAddr}
	minted := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for id := uint64(1); id <= n; id++ {
		gw.Mint(classes, testHolder, id, id*10, minted.Add(time.Duration(id)*24*time.Hour))
		gw.SetClassData(classes, id, ledger.ClassData{
			Topic:         fmt.Sprintf("Module %d", id),
			ClassIndex:    fmt.Sprint(id),
			SubjectHolder: "Test User",
		})
	}
	return gw
}

func newPipeline(gw *stub.Gateway) *pipeline.Pipeline {
	s, err := scanner.New(scanner.Options{Gateway: gw})
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}
	o, err := attestation.New(attestation.Options{Gateway: gw, Contract: attestAddr, Scanner: s, Journal: memory.New()})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	p, err := pipeline.New(pipeline.Options{
		Scanner:      s,
		Engine:       eligibility.NewEngine(),
		Orchestrator: o,
		Contract:     classAddr,
		ScanRange:    scanner.Upto(100),
	})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	return p
}

func checkExample(ctx context.Context, p *pipeline.Pipeline) {
	res := p.Check(ctx, testHolder)
	if res.Err != nil {
		log.Fatalf("Check failed (%s): %v", res.Outcome, res.Err)
	}
	for _, line := range res.Verdict.Summary() {
		fmt.Println("✅", line)
	}
}

func issueExample(ctx context.Context, p *pipeline.Pipeline) {
	form := attestation.FormData{GivenName: "Test", FamilyName: "User", Date: "2025-06-01"}
	res := p.Run(ctx, testHolder, form, []common.Address{testHolder})
	if res.Err != nil {
		log.Fatalf("Issuance failed (%s): %v", res.Outcome, res.Err)
	}
	for _, r := range res.Issued {
		fmt.Printf("Recipient %s: succeeded=%t tx=%s\n", r.Recipient.Hex(), r.Succeeded, r.TransactionHash)
	}
}

func approveExample(ctx context.Context, gw *stub.Gateway) {
	// the reviewer signs approvals
	gw.SetSigner(testReviewer)

	wf, err := approval.New(approval.Options{
		Gateway:     gw,
		Attestation: attestAddr,
		Approval:    approveAddr,
		Reviewers:   []common.Address{testReviewer},
	})
	if err != nil {
		log.Fatalf("Failed to create workflow: %v", err)
	}

	rec, err := wf.Locate(ctx, testHolder)
	if err != nil {
		log.Fatalf("Failed to locate attestation: %v", err)
	}
	prettyBytes, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Println("Attestation located:")
	fmt.Println(string(prettyBytes))

	approved, already, err := wf.Approve(ctx, rec, "A", "Completed every module")
	if err != nil {
		log.Fatalf("Failed to approve: %v", err)
	}
	fmt.Printf("\nState: %s, already approved: %t, tx: %s\n", wf.State(), already, approved.TransactionHash)

	// a second approval finds the first one on the ledger
	_, already, err = wf.Approve(ctx, rec, "B", "Again")
	if err != nil {
		log.Fatalf("Failed to approve: %v", err)
	}
	fmt.Printf("Second approval sends nothing: already approved: %t\n", already)
}
