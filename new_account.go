package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/rpc"
	"github.com/vaultsync/core/internal/store"
)

func newNewAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-account <username>",
		Short: "Register a new account and initialize the local store",
		Args:  cobra.ExactArgs(1),
		RunE:  runNewAccount,
	}
}

func runNewAccount(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	username := args[0]

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetAccount(); err == nil {
		return fmt.Errorf("an account already exists in this store — set a different account.data_dir in the config to create another")
	}

	kp, err := crypto.GenerateAccountKeypair()
	if err != nil {
		return fmt.Errorf("generating account keypair: %w", err)
	}

	pubDER, err := crypto.MarshalPublicKey(kp.Public)
	if err != nil {
		return fmt.Errorf("marshaling public key: %w", err)
	}

	privDER, err := crypto.MarshalPrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}

	client := rpc.NewClient(cc.Cfg.Account.APILocation, cc.Logger)

	if err := client.NewAccount(cmd.Context(), username, kp.Private, pubDER); err != nil {
		return fmt.Errorf("registering account with server: %w", err)
	}

	if err := s.PutAccount(&store.Account{
		Username:      username,
		PrivateKeyDER: privDER,
		PublicKeyDER:  pubDER,
	}); err != nil {
		return fmt.Errorf("persisting account locally: %w", err)
	}

	root := &store.FileMetadata{
		ID:         [16]byte(uuid.New()),
		FileType:   store.FileTypeFolder,
		Name:       username,
		Owner:      username,
		NewLocally: true,
	}
	root.Parent = root.ID

	if err := root.Sign(kp.Private); err != nil {
		return fmt.Errorf("signing root folder: %w", err)
	}

	if err := s.Put(root); err != nil {
		return fmt.Errorf("creating root folder: %w", err)
	}

	statusf(flagQuiet, "Account %q created. Run 'vaultsync sync' to push the root folder.\n", username)

	return nil
}
