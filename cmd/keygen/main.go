package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"github.com/urfave/cli"

	"github.com/rail-service/custody_service/internal/domain/services/keys"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	pkgcrypto "github.com/rail-service/custody_service/pkg/crypto"
)

const defaultEntropyBits = 256

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[keygen] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "keygen"
	app.Usage = "generate the sealed master key envelopes for the custody service"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "passphrase",
			EnvVar: "MASTER_KEY",
			Usage:  "passphrase sealing both envelopes",
		},
		cli.StringFlag{
			Name:  "mnemonic",
			Usage: "restore from an existing BIP39 mnemonic instead of generating one",
		},
		cli.StringFlag{
			Name:  "seed-password",
			Usage: "optional BIP39 seed password",
		},
		cli.IntFlag{
			Name:  "entropy",
			Value: defaultEntropyBits,
			Usage: "entropy bits for a new mnemonic (128 to 256, multiple of 32)",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func run(c *cli.Context) error {
	passphrase := c.String("passphrase")
	if strings.TrimSpace(passphrase) == "" {
		return errors.New("--passphrase or MASTER_KEY is required")
	}

	mnemonic := strings.TrimSpace(c.String("mnemonic"))
	generated := mnemonic == ""
	if generated {
		entropy, err := bip39.NewEntropy(c.Int("entropy"))
		if err != nil {
			return fmt.Errorf("failed to generate entropy: %w", err)
		}
		if mnemonic, err = bip39.NewMnemonic(entropy); err != nil {
			return fmt.Errorf("failed to build mnemonic: %w", err)
		}
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, c.String("seed-password"))
	if err != nil {
		return fmt.Errorf("invalid mnemonic: %w", err)
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return fmt.Errorf("failed to derive master key: %w", err)
	}

	xprivEnvelope, err := pkgcrypto.SealEnvelope([]byte(master.B58Serialize()), passphrase)
	if err != nil {
		return fmt.Errorf("failed to seal xprv: %w", err)
	}
	xpubEnvelope, err := pkgcrypto.SealEnvelope([]byte(master.PublicKey().B58Serialize()), passphrase)
	if err != nil {
		return fmt.Errorf("failed to seal xpub: %w", err)
	}

	// Round trip through the loader the service uses at startup.
	deriver, err := keys.LoadDeriver(config.CustodyConfig{
		MasterPassphrase: passphrase,
		XPrivEnvelope:    xprivEnvelope,
		XPubEnvelope:     xpubEnvelope,
	})
	if err != nil {
		return fmt.Errorf("sealed envelopes do not load: %w", err)
	}
	first, err := deriver.DeriveAddress(0)
	if err != nil {
		return fmt.Errorf("failed to derive index 0: %w", err)
	}

	if generated {
		fmt.Fprintf(os.Stderr, "mnemonic (store offline): %s\n", mnemonic)
	}
	fmt.Fprintf(os.Stderr, "master signer address (fund with native currency): %s\n", deriver.MasterAddress().Hex())
	fmt.Fprintf(os.Stderr, "first deposit address: %s\n", first.Hex())

	fmt.Printf("WALLET_XPRIV_ENC='%s'\n", xprivEnvelope)
	fmt.Printf("WALLET_XPUB_ENC='%s'\n", xpubEnvelope)
	return nil
}
