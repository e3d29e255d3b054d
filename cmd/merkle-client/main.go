package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/client"
	"github.com/Layr-Labs/merkle-verify-go/pkg/config"
	"github.com/Layr-Labs/merkle-verify-go/pkg/logger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner/inMemoryTransportSigner"
)

func main() {
	app := &cli.App{
		Name:  "merkle-client",
		Usage: "Client for a merkle ledger node",
		Description: `Initializes the account, appends leaves, fetches roots and proofs and
submits proven value updates. Leaves are given as UTF-8 strings unless --hex is set.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"url"},
				Value:   "http://localhost:8000",
				Usage:   "Merkle server base URL",
				EnvVars: []string{config.EnvMerkleServerURL},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "secp256k1 private key (hex) used to sign mutating requests",
				EnvVars: []string{config.EnvMerklePrivateKey},
			},
			&cli.BoolFlag{
				Name:  "hex",
				Usage: "Interpret leaf arguments as 0x-prefixed hex",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Create the account with the given leaves, owned by the signing key",
				ArgsUsage: "[leaf...]",
				Action:    initCommand,
			},
			{
				Name:      "add-leaf",
				Usage:     "Append a leaf (owner only)",
				ArgsUsage: "<leaf>",
				Action:    addLeafCommand,
			},
			{
				Name:  "set-value",
				Usage: "Store a value by proving a leaf hash at an index",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "value", Required: true, Usage: "Value to store"},
					&cli.Uint64Flag{Name: "index", Required: true, Usage: "Leaf index"},
					&cli.StringFlag{Name: "hash", Usage: "Claimed leaf hash (0x hex)"},
					&cli.StringFlag{Name: "leaf", Usage: "Leaf to hash locally instead of --hash"},
				},
				Action: setValueCommand,
			},
			{
				Name:   "account",
				Usage:  "Show the account",
				Action: accountCommand,
			},
			{
				Name:   "root",
				Usage:  "Show the current merkle root",
				Action: rootCommand,
			},
			{
				Name:  "proof",
				Usage: "Fetch the inclusion proof for a leaf index",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "index", Required: true, Usage: "Leaf index"},
				},
				Action: proofCommand,
			},
			{
				Name:      "verify",
				Usage:     "Fetch the proof for an index and verify a leaf against it locally",
				ArgsUsage: "<leaf>",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "index", Required: true, Usage: "Leaf index"},
				},
				Action: verifyCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newClient(c *cli.Context, requireKey bool) (*client.MerkleClient, *zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	clientConfig := &config.ClientConfig{
		ServerURL:  c.String("server-url"),
		PrivateKey: c.String("private-key"),
	}
	if err := clientConfig.Validate(requireKey); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var signer *inMemoryTransportSigner.InMemoryTransportSigner
	if clientConfig.PrivateKey != "" {
		keyBytes, err := clientConfig.PrivateKeyBytes()
		if err != nil {
			return nil, nil, err
		}
		signer, err = inMemoryTransportSigner.NewECDSAInMemoryTransportSigner(keyBytes, l)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create transport signer: %w", err)
		}
	}

	if signer == nil {
		return client.NewMerkleClient(clientConfig.ServerURL, nil, l), l, nil
	}
	return client.NewMerkleClient(clientConfig.ServerURL, signer, l), l, nil
}

func parseLeaf(c *cli.Context, arg string) ([]byte, error) {
	if c.Bool("hex") {
		leaf, err := hexutil.Decode(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid hex leaf %q: %w", arg, err)
		}
		return leaf, nil
	}
	return []byte(arg), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCommand(c *cli.Context) error {
	mc, _, err := newClient(c, true)
	if err != nil {
		return err
	}

	leaves := make([][]byte, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		leaf, err := parseLeaf(c, arg)
		if err != nil {
			return err
		}
		leaves = append(leaves, leaf)
	}

	account, err := mc.Initialize(c.Context, leaves)
	if err != nil {
		return fmt.Errorf("failed to initialize account: %w", err)
	}
	return printJSON(account)
}

func addLeafCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("add-leaf takes exactly one leaf argument")
	}
	mc, _, err := newClient(c, true)
	if err != nil {
		return err
	}

	leaf, err := parseLeaf(c, c.Args().First())
	if err != nil {
		return err
	}

	resp, err := mc.AddLeaf(c.Context, leaf)
	if err != nil {
		return fmt.Errorf("failed to add leaf: %w", err)
	}
	return printJSON(resp)
}

func setValueCommand(c *cli.Context) error {
	mc, _, err := newClient(c, true)
	if err != nil {
		return err
	}

	var hash merkle.Hash
	switch {
	case c.IsSet("hash"):
		hash, err = merkle.HexToHash(c.String("hash"))
		if err != nil {
			return fmt.Errorf("invalid hash: %w", err)
		}
	case c.IsSet("leaf"):
		root, err := mc.GetRoot(c.Context)
		if err != nil {
			return fmt.Errorf("failed to fetch hash type: %w", err)
		}
		hasher, err := merkle.NewHasher(root.HashType)
		if err != nil {
			return err
		}
		leaf, err := parseLeaf(c, c.String("leaf"))
		if err != nil {
			return err
		}
		hash = hasher.HashLeaf(leaf)
	default:
		return fmt.Errorf("one of --hash or --leaf is required")
	}

	account, err := mc.SetValue(c.Context, c.Uint64("value"), c.Uint64("index"), hash)
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return printJSON(account)
}

func accountCommand(c *cli.Context) error {
	mc, _, err := newClient(c, false)
	if err != nil {
		return err
	}
	account, err := mc.GetAccount(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	return printJSON(account)
}

func rootCommand(c *cli.Context) error {
	mc, _, err := newClient(c, false)
	if err != nil {
		return err
	}
	root, err := mc.GetRoot(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get root: %w", err)
	}
	return printJSON(root)
}

func proofCommand(c *cli.Context) error {
	mc, _, err := newClient(c, false)
	if err != nil {
		return err
	}
	proof, err := mc.GetProof(c.Context, c.Uint64("index"))
	if err != nil {
		return fmt.Errorf("failed to get proof: %w", err)
	}
	return printJSON(proof)
}

func verifyCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("verify takes exactly one leaf argument")
	}
	mc, l, err := newClient(c, false)
	if err != nil {
		return err
	}

	leaf, err := parseLeaf(c, c.Args().First())
	if err != nil {
		return err
	}

	valid, err := mc.VerifyLeaf(c.Context, c.Uint64("index"), leaf)
	if err != nil {
		return fmt.Errorf("failed to verify leaf: %w", err)
	}

	l.Sugar().Debugw("Verified leaf locally", "index", c.Uint64("index"), "valid", valid)
	if err := printJSON(map[string]bool{"valid": valid}); err != nil {
		return err
	}
	if !valid {
		return cli.Exit("leaf is not included at the given index", 1)
	}
	return nil
}
