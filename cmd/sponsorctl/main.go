// sponsorctl replays fee-sponsorship scenarios against an in-memory ledger.
// It exists for protocol work: policy questions like "who pays when both the
// payer/target and the target pool are funded" are answered faster with a
// scenario file than with a devnet.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/naoina/toml"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/sponsornet/feeledger/sponsorpool"
)

func main() {
	app := &cli.App{
		Name:  "sponsorctl",
		Usage: "replay fee-sponsorship scenarios against an in-memory ledger",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "verbosity",
				Usage: "log verbosity (0=silent, 3=info, 5=trace)",
				Value: 3,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "simulate",
				Usage:     "run a TOML scenario file and print the resulting pool table",
				ArgsUsage: "<scenario.toml>",
				Action:    simulate,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// step is one scenario action. Op selects which of the optional fields apply.
type step struct {
	Op string // fund | deposit | charge | withdraw

	Account string // fund
	Sponsor string // deposit, withdraw
	Payer   string
	Target  string

	Scope    string // deposit, withdraw: payer_target | target_selector | target | payer | payer_target_selector
	Selector string // deposit, withdraw (selector scopes)
	Calldata string // charge

	Amount string // fund, deposit, withdraw
	Fee    string // charge

	ExpectFail bool
}

type scenario struct {
	Step []step
}

func simulate(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int("verbosity")), true)
	log.SetDefault(log.NewLogger(handler))

	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one scenario file, got %d arguments", ctx.NArg())
	}
	f, err := os.Open(ctx.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()

	var sc scenario
	if err := toml.NewDecoder(f).Decode(&sc); err != nil {
		return fmt.Errorf("invalid scenario: %v", err)
	}

	funds := sponsorpool.NewMemBackend()
	ledger, node := sponsorpool.NewLedger(funds)
	gasPrice := uint256.NewInt(1)

	// Remember everything the scenario touched so the summary covers it.
	var (
		scopes   []sponsorpool.ScopeKey
		scopeSet = make(map[sponsorpool.ScopeKey]bool)
		sponsors []common.Address
		seen     = make(map[common.Address]bool)
	)
	trackScope := func(k sponsorpool.ScopeKey) {
		if !scopeSet[k] {
			scopeSet[k] = true
			scopes = append(scopes, k)
		}
	}
	trackSponsor := func(a common.Address) {
		if !seen[a] {
			seen[a] = true
			sponsors = append(sponsors, a)
		}
	}

	for i, st := range sc.Step {
		var err error
		switch st.Op {
		case "fund":
			amount, perr := parseAmount(st.Amount)
			if perr != nil {
				return fmt.Errorf("step %d: %v", i+1, perr)
			}
			funds.Mint(common.HexToAddress(st.Account), amount)
			log.Info("Funded account", "step", i+1, "account", st.Account, "amount", amount)

		case "deposit":
			key, kerr := parseScope(st)
			if kerr != nil {
				return fmt.Errorf("step %d: %v", i+1, kerr)
			}
			amount, perr := parseAmount(st.Amount)
			if perr != nil {
				return fmt.Errorf("step %d: %v", i+1, perr)
			}
			sponsor := common.HexToAddress(st.Sponsor)
			trackScope(key)
			trackSponsor(sponsor)
			err = ledger.Deposit(sponsorpool.TxContext{Caller: sponsor, GasPrice: gasPrice}, key, amount)
			if err == nil {
				log.Info("Deposited", "step", i+1, "scope", key, "sponsor", st.Sponsor, "amount", amount)
			}

		case "charge":
			fee, perr := parseAmount(st.Fee)
			if perr != nil {
				return fmt.Errorf("step %d: %v", i+1, perr)
			}
			err = ledger.DeductFees(node,
				common.HexToAddress(st.Payer), common.HexToAddress(st.Target),
				common.FromHex(st.Calldata), fee)
			if err == nil {
				log.Info("Charged fee", "step", i+1, "payer", st.Payer, "target", st.Target, "fee", fee)
			}

		case "withdraw":
			key, kerr := parseScope(st)
			if kerr != nil {
				return fmt.Errorf("step %d: %v", i+1, kerr)
			}
			amount, perr := parseAmount(st.Amount)
			if perr != nil {
				return fmt.Errorf("step %d: %v", i+1, perr)
			}
			sponsor := common.HexToAddress(st.Sponsor)
			trackScope(key)
			trackSponsor(sponsor)
			var got *uint256.Int
			got, err = ledger.Withdraw(sponsorpool.TxContext{Caller: sponsor, GasPrice: gasPrice}, key, amount)
			if err == nil {
				log.Info("Withdrew", "step", i+1, "scope", key, "sponsor", st.Sponsor, "amount", got)
			}

		default:
			return fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}

		if err != nil && !st.ExpectFail {
			return fmt.Errorf("step %d (%s): %v", i+1, st.Op, err)
		}
		if err == nil && st.ExpectFail {
			return fmt.Errorf("step %d (%s): expected failure, but it succeeded", i+1, st.Op)
		}
		if err != nil {
			log.Info("Step failed as expected", "step", i+1, "op", st.Op, "err", err)
		}
	}

	printSummary(ledger, funds, scopes, sponsors)
	return nil
}

func printSummary(ledger *sponsorpool.Ledger, funds *sponsorpool.MemBackend, scopes []sponsorpool.ScopeKey, sponsors []common.Address) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Pool", "Available", "Total shares"})
	for _, key := range scopes {
		table.Append([]string{key.String(), ledger.Available(key).Dec(), ledger.TotalShares(key).Dec()})
	}
	table.Render()

	table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Pool", "Sponsor", "Shares", "Withdrawable"})
	for _, key := range scopes {
		for _, sponsor := range sponsors {
			shares := ledger.SharesOf(key, sponsor)
			if shares.IsZero() {
				continue
			}
			table.Append([]string{key.String(), sponsor.Hex(), shares.Dec(), ledger.Withdrawable(key, sponsor).Dec()})
		}
	}
	table.Render()

	fmt.Printf("vault: %s  burned: %s\n", funds.VaultBalance().Dec(), funds.Burned().Dec())
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %v", s, err)
	}
	return amount, nil
}

func parseSelector(s string) (sponsorpool.Selector, error) {
	var sel sponsorpool.Selector
	raw := common.FromHex(s)
	if len(raw) != sponsorpool.SelectorLength {
		return sel, fmt.Errorf("selector %q must be %d bytes", s, sponsorpool.SelectorLength)
	}
	copy(sel[:], raw)
	return sel, nil
}

func parseScope(st step) (sponsorpool.ScopeKey, error) {
	payer := common.HexToAddress(st.Payer)
	target := common.HexToAddress(st.Target)
	switch st.Scope {
	case "payer_target":
		return sponsorpool.PayerTargetScope(payer, target), nil
	case "target_selector":
		sel, err := parseSelector(st.Selector)
		if err != nil {
			return sponsorpool.ScopeKey{}, err
		}
		return sponsorpool.TargetSelectorScope(target, sel), nil
	case "target":
		return sponsorpool.TargetScope(target), nil
	case "payer":
		return sponsorpool.PayerScope(payer), nil
	case "payer_target_selector":
		sel, err := parseSelector(st.Selector)
		if err != nil {
			return sponsorpool.ScopeKey{}, err
		}
		return sponsorpool.PayerTargetSelectorScope(payer, target, sel), nil
	default:
		return sponsorpool.ScopeKey{}, fmt.Errorf("unknown scope %q", st.Scope)
	}
}
