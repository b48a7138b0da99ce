package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/balanceMap"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/clients/distributorClient"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner/inMemoryTransportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/util"
)

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// createClient creates a distributor client from CLI context. withSigner loads
// --private-key.
func createClient(c *cli.Context, withSigner bool) (*distributorClient.Client, error) {
	l, err := newLogger(c)
	if err != nil {
		return nil, err
	}

	clientCfg := &config.DistributorClientConfig{
		ServerURL:  c.String("server-url"),
		RequestTTL: c.Duration("request-ttl"),
	}
	if withSigner {
		clientCfg.PrivateKey = c.String("private-key")
	}
	if err := clientCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	cfg := &distributorClient.ClientConfig{
		ServerURL:  clientCfg.ServerURL,
		RequestTTL: clientCfg.RequestTTL,
		Logger:     l,
	}
	if withSigner {
		key, err := util.StringToECDSAPrivateKey(clientCfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		signer := inMemoryTransportSigner.NewInMemoryTransportSigner(key, l)
		l.Sugar().Debugw("Loaded signer", "address", signer.Address().Hex())
		cfg.Signer = signer
	}
	return distributorClient.NewClient(cfg)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func parseAddressFlag(c *cli.Context, name string) (common.Address, error) {
	addr, err := util.ParseAddress(c.String(name))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return addr, nil
}

func generateCommand(c *cli.Context) error {
	balances, err := balanceMap.ReadBalancesFile(c.String("balances"))
	if err != nil {
		return err
	}
	info, err := balanceMap.ParseBalanceMap(balances)
	if err != nil {
		return fmt.Errorf("failed to build distribution: %w", err)
	}

	output := c.String("output")
	if output == "" {
		return printJSON(info)
	}
	if err := balanceMap.WriteClaimsFile(output, info); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d claims to %s\n", len(info.Claims), output)
	fmt.Fprintf(os.Stderr, "Merkle root: %s\n", info.MerkleRoot.Hex())
	fmt.Fprintf(os.Stderr, "Token total: %s (%s)\n", info.TokenTotal.String(), info.TokenTotal.ToInt().String())
	return nil
}

func verifyCommand(c *cli.Context) error {
	info, err := balanceMap.ReadClaimsFile(c.String("claims"))
	if err != nil {
		return err
	}
	if err := balanceMap.VerifyClaims(info); err != nil {
		return err
	}
	fmt.Printf("All %d claims verify against root %s\n", len(info.Claims), info.MerkleRoot.Hex())
	return nil
}

func stateCommand(c *cli.Context) error {
	client, err := createClient(c, false)
	if err != nil {
		return err
	}
	state, err := client.State(c.Context)
	if err != nil {
		return err
	}
	return printJSON(state)
}

func claimedCommand(c *cli.Context) error {
	account, err := parseAddressFlag(c, "account")
	if err != nil {
		return err
	}
	client, err := createClient(c, false)
	if err != nil {
		return err
	}
	resp, err := client.ClaimedAmount(c.Context, account)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func eventsCommand(c *cli.Context) error {
	client, err := createClient(c, false)
	if err != nil {
		return err
	}
	events, err := client.Events(c.Context, c.Uint64("from"), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(events)
}

func claimCommand(c *cli.Context) error {
	account, err := parseAddressFlag(c, "account")
	if err != nil {
		return err
	}
	info, err := balanceMap.ReadClaimsFile(c.String("claims"))
	if err != nil {
		return err
	}
	client, err := createClient(c, false)
	if err != nil {
		return err
	}
	ev, err := client.ClaimFromInfo(c.Context, info, account)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func depositCommand(c *cli.Context) error {
	amount, err := util.ParseAmount(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}
	client, err := createClient(c, true)
	if err != nil {
		return err
	}
	ev, err := client.Deposit(c.Context, amount)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func setRootCommand(c *cli.Context) error {
	var root common.Hash
	switch {
	case c.String("claims") != "" && c.String("merkle-root") != "":
		return fmt.Errorf("use either --merkle-root or --claims, not both")
	case c.String("claims") != "":
		info, err := balanceMap.ReadClaimsFile(c.String("claims"))
		if err != nil {
			return err
		}
		root = info.MerkleRoot
	case c.String("merkle-root") != "":
		raw := c.String("merkle-root")
		b := common.FromHex(raw)
		if len(b) != common.HashLength {
			return fmt.Errorf("invalid --merkle-root %q: expected 32 bytes", raw)
		}
		root = common.BytesToHash(b)
	default:
		return fmt.Errorf("one of --merkle-root or --claims is required")
	}

	client, err := createClient(c, true)
	if err != nil {
		return err
	}
	ev, err := client.SetMerkleRoot(c.Context, root)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func setMaintainerCommand(c *cli.Context) error {
	maintainer, err := parseAddressFlag(c, "maintainer")
	if err != nil {
		return err
	}
	client, err := createClient(c, true)
	if err != nil {
		return err
	}
	ev, err := client.SetMaintainer(c.Context, maintainer)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func transferOwnershipCommand(c *cli.Context) error {
	newOwner, err := parseAddressFlag(c, "new-owner")
	if err != nil {
		return err
	}
	client, err := createClient(c, true)
	if err != nil {
		return err
	}
	ev, err := client.TransferOwnership(c.Context, newOwner)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func withdrawCommand(c *cli.Context) error {
	destination, err := parseAddressFlag(c, "destination")
	if err != nil {
		return err
	}
	client, err := createClient(c, true)
	if err != nil {
		return err
	}
	ev, err := client.EmergencyWithdrawNew(c.Context, destination)
	if err != nil {
		return err
	}
	return printJSON(ev)
}
