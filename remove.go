package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/tree"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <remote-path>",
		Short: "Mark a file or folder (and its descendants) deleted locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemove,
	}
}

func runRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	remotePath := args[0]

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := requireAccount(s); err != nil {
		return err
	}

	files, err := s.All()
	if err != nil {
		return fmt.Errorf("loading local files: %w", err)
	}

	t := tree.Build(files)

	id, err := t.FindByPath(remotePath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", remotePath, err)
	}

	root, _ := t.Root()
	if root != nil && id == root.ID {
		return fmt.Errorf("cannot remove the root folder")
	}

	toRemove := append([]*store.FileMetadata{t.Get(id)}, t.Descendants(id)...)

	for _, f := range toRemove {
		if f.Deleted || f.DeletedLocally {
			continue
		}

		f.DeletedLocally = true

		if err := s.Put(f); err != nil {
			return fmt.Errorf("marking %s deleted: %w", f.Name, err)
		}
	}

	statusf(flagQuiet, "%s marked deleted locally (%d item(s)). Run 'vaultsync sync' to push.\n", remotePath, len(toRemove))

	return nil
}
