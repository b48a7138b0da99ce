package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/clients/distributorClient"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
)

func main() {
	serverFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Aliases: []string{"url"},
			Usage:   "Distributor server URL",
			Value:   "http://localhost:8080",
			EnvVars: []string{config.EnvDistributorURL},
		},
		&cli.DurationFlag{
			Name:  "request-ttl",
			Usage: "Validity of signed requests",
			Value: distributorClient.DefaultRequestTTL,
		},
	}
	signerFlags := append([]cli.Flag{
		&cli.StringFlag{
			Name:     "private-key",
			Aliases:  []string{"key"},
			Usage:    "secp256k1 private key (hex) that signs the request",
			EnvVars:  []string{config.EnvDistributorPrivateKey},
			Required: true,
		},
	}, serverFlags...)

	app := &cli.App{
		Name:  "distributor",
		Usage: "Merkle distributor tooling",
		Description: `Builds distributions and talks to a distributor server.

Offline:
- generate turns an account to amount JSON map into a claims file holding the
  merkle root, the total to fund and one proof per account
- verify checks every proof in a claims file

Online:
- state, claimed and events read the ledger
- claim submits an account's claim from a claims file
- deposit, set-root, set-maintainer, transfer-ownership and withdraw send
  requests signed with --private-key`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDistributorVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Build a claims file from a balance map",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "balances",
						Usage:    "JSON file mapping addresses to amounts",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the claims (stdout when empty)",
						Value: "",
					},
				},
				Action: generateCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify every claim in a claims file against its root",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "claims",
						Usage:    "Claims file written by generate",
						Required: true,
					},
				},
				Action: verifyCommand,
			},
			{
				Name:   "state",
				Usage:  "Show the ledger state",
				Flags:  serverFlags,
				Action: stateCommand,
			},
			{
				Name:  "claimed",
				Usage: "Show how much an account has claimed",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "Account address", Required: true},
				}, serverFlags...),
				Action: claimedCommand,
			},
			{
				Name:  "events",
				Usage: "List ledger events",
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "from", Usage: "First sequence number", Value: 0},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of events", Value: 100},
				}, serverFlags...),
				Action: eventsCommand,
			},
			{
				Name:  "claim",
				Usage: "Claim an account's entitlement from a claims file",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "claims", Usage: "Claims file written by generate", Required: true},
					&cli.StringFlag{Name: "account", Usage: "Account to claim for", Required: true},
				}, serverFlags...),
				Action: claimCommand,
			},
			{
				Name:  "deposit",
				Usage: "Fund the ledger",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "amount", Usage: "Amount (decimal or 0x hex)", Required: true},
				}, signerFlags...),
				Action: depositCommand,
			},
			{
				Name:  "set-root",
				Usage: "Replace the merkle root (maintainer)",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "merkle-root", Usage: "New root (hex)"},
					&cli.StringFlag{Name: "claims", Usage: "Take the root from this claims file"},
				}, signerFlags...),
				Action: setRootCommand,
			},
			{
				Name:  "set-maintainer",
				Usage: "Replace the maintainer (owner)",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "maintainer", Usage: "New maintainer address", Required: true},
				}, signerFlags...),
				Action: setMaintainerCommand,
			},
			{
				Name:  "transfer-ownership",
				Usage: "Transfer ownership (owner)",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "new-owner", Usage: "New owner address", Required: true},
				}, signerFlags...),
				Action: transferOwnershipCommand,
			},
			{
				Name:  "withdraw",
				Usage: "Move the whole balance to a destination (owner)",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "destination", Usage: "Destination address", Required: true},
				}, signerFlags...),
				Action: withdrawCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
