package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/tree"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the local file tree's structural invariants",
		Long: `Validate that the local tree has exactly one root, is acyclic, and has no
duplicate sibling names — the structural invariants the merge phase of sync
relies on.`,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	files, err := s.All()
	if err != nil {
		return fmt.Errorf("loading local files: %w", err)
	}

	t := tree.Build(files)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("local tree is invalid: %w", err)
	}

	statusf(flagQuiet, "Local tree is valid (%d files).\n", len(files))

	return nil
}
