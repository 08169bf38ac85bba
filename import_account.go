package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
)

func newImportCmd() *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "import <username>",
		Short: "Import an existing account's private key into this device's local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], keyPath)
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "path to the account's DER-encoded RSA private key (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runImport(cmd *cobra.Command, username, keyPath string) error {
	cc := mustCLIContext(cmd.Context())

	privDER, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("reading private key file: %w", err)
	}

	priv, err := crypto.ParsePrivateKey(privDER)
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	pubDER, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshaling public key: %w", err)
	}

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetAccount(); err == nil {
		return fmt.Errorf("an account already exists in this store — set a different account.data_dir in the config to import another")
	}

	if err := s.PutAccount(&store.Account{
		Username:      username,
		PrivateKeyDER: privDER,
		PublicKeyDER:  pubDER,
	}); err != nil {
		return fmt.Errorf("persisting account locally: %w", err)
	}

	statusf(flagQuiet, "Account %q imported. Run 'vaultsync sync' to pull the file tree.\n", username)

	return nil
}
