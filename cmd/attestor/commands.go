package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-attestation-sdk/approval"
	"github.com/pilacorp/go-attestation-sdk/attestation"
	"github.com/pilacorp/go-attestation-sdk/journal"
	"github.com/pilacorp/go-attestation-sdk/ledger"
	"github.com/pilacorp/go-attestation-sdk/pipeline"
	"github.com/pilacorp/go-attestation-sdk/scanner"
)

type issuedView struct {
	Recipient       string `json:"recipient"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Succeeded       bool   `json:"succeeded"`
	Skipped         bool   `json:"skipped,omitempty"`
	Error           string `json:"error,omitempty"`
}

type runView struct {
	RunID    string       `json:"runId"`
	Holder   string       `json:"holder"`
	Outcome  string       `json:"outcome"`
	Eligible *bool        `json:"eligible,omitempty"`
	Summary  []string     `json:"summary,omitempty"`
	Reasons  []string     `json:"reasons,omitempty"`
	Issued   []issuedView `json:"issued,omitempty"`
	// JournalKey is the idempotency key the issuance attempts are recorded under.
	JournalKey string `json:"journalKey,omitempty"`
}

func newRunView(res *pipeline.Result) runView {
	v := runView{
		RunID:   res.RunID,
		Holder:  res.Holder.Hex(),
		Outcome: res.Outcome.String(),
		Reasons: res.Reasons,
	}
	if res.Verdict != nil {
		eligible := res.Verdict.Eligible
		v.Eligible = &eligible
		v.Summary = res.Verdict.Summary()
	}
	for _, r := range res.Issued {
		iv := issuedView{
			Recipient:       r.Recipient.Hex(),
			TransactionHash: r.TransactionHash,
			Succeeded:       r.Succeeded,
			Skipped:         r.Skipped,
		}
		if r.Err != nil {
			iv.Error = r.Err.Error()
		}
		v.Issued = append(v.Issued, iv)
	}
	if len(res.Issued) > 0 && res.Verdict != nil {
		inv := res.Verdict.Inventory
		v.JournalKey = journal.IdempotencyKey(inv.Holder, inv.Contract, inv.Epoch)
	}
	return v
}

func scanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <holder>",
		Short: "List the class tokens a holder owns with their provenance.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := parseHolder(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				contract := ledger.Contract{Kind: ledger.ClassContract, Address: a.cfg.ClassAddress()}
				inv, err := a.scanner.Scan(ctx, holder, contract, scanner.Upto(a.cfg.ScanUpperBound))
				if err != nil {
					return err
				}
				return printJSON(cmd, inv)
			})
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check <holder>",
		Short: "Evaluate the eligibility rules for a holder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := parseHolder(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				return report(cmd, p.Check(ctx, holder))
			})
		},
	}
}

func issueCmd(configPath *string) *cobra.Command {
	var (
		form       attestation.FormData
		recipients []string
	)

	cmd := &cobra.Command{
		Use:   "issue <holder>",
		Short: "Check a holder and issue the attestation to every recipient.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := parseHolder(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				to := a.cfg.RecipientAddresses()
				if len(recipients) > 0 {
					to = nil
					for _, r := range recipients {
						addr, err := parseHolder(r)
						if err != nil {
							return fmt.Errorf("recipient: %w", err)
						}
						to = append(to, addr)
					}
				}

				p, err := a.pipeline()
				if err != nil {
					return err
				}
				return report(cmd, p.Run(ctx, holder, form, to))
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&form.GivenName, "given-name", "", "given name of the subject")
	flags.StringVar(&form.FamilyName, "family-name", "", "family name of the subject")
	flags.StringVar(&form.Date, "date", time.Now().UTC().Format(time.DateOnly), "issuance date (YYYY-MM-DD)")
	flags.StringSliceVar(&recipients, "recipient", nil, "recipient address, repeatable (defaults to issuance.recipients)")
	return cmd
}

func locateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "locate <holder>",
		Short: "Find the attestation held by a holder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := parseHolder(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				wf, err := a.workflow()
				if err != nil {
					return err
				}
				rec, err := wf.Locate(ctx, holder)
				if err != nil {
					return outcomeError(err)
				}
				return printJSON(cmd, rec)
			})
		},
	}
}

func approveCmd(configPath *string) *cobra.Command {
	var grade, comment string

	cmd := &cobra.Command{
		Use:   "approve <holder>",
		Short: "Approve the attestation held by a holder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := parseHolder(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				wf, err := a.workflow()
				if err != nil {
					return err
				}
				rec, err := wf.Locate(ctx, holder)
				if err != nil {
					return outcomeError(err)
				}
				approved, already, err := wf.Approve(ctx, rec, grade, comment)
				if err != nil {
					return outcomeError(err)
				}
				return printJSON(cmd, struct {
					State           string           `json:"state"`
					AlreadyApproved bool             `json:"alreadyApproved"`
					Approval        *approval.Record `json:"approval"`
				}{wf.State().String(), already, approved})
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&grade, "grade", "", "grade given by the reviewer")
	flags.StringVar(&comment, "comment", "", "reviewer comment")
	return cmd
}

func approvalsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "approvals <holder>",
		Short: "List the approvals held by a holder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := parseHolder(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				wf, err := a.workflow()
				if err != nil {
					return err
				}
				records, err := wf.Approvals(ctx, holder)
				if err != nil {
					return outcomeError(err)
				}
				return printJSON(cmd, records)
			})
		},
	}
}

// withApp builds the app from the configuration, runs fn and releases the app.
func withApp(cmd *cobra.Command, configPath string, fn func(context.Context, *app) error) error {
	// Parsing of the command line is done so silence cmd usage
	cmd.SilenceUsage = true

	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a)
}

func report(cmd *cobra.Command, res *pipeline.Result) error {
	if err := printJSON(cmd, newRunView(res)); err != nil {
		return err
	}
	if res.Err != nil {
		return outcomeError(res.Err)
	}
	return nil
}

// outcomeError prefixes err with what the caller can do about it.
func outcomeError(err error) error {
	switch pipeline.Classify(err) {
	case pipeline.Retryable:
		return fmt.Errorf("retryable, run the command again to refresh: %w", err)
	case pipeline.Denied:
		return fmt.Errorf("denied: %w", err)
	default:
		return err
	}
}

func parseHolder(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", errInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", errInvalidAddress)
	}
	return addr, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
