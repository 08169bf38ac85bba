package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/tree"
)

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source-remote-path> <dest-remote-path>",
		Short: "Rename or move a file or folder",
		Long: `Rename and/or move a file or folder within the remote tree. If
dest-remote-path names an existing folder, the source is moved into it
keeping its current name; otherwise dest-remote-path's final segment becomes
the new name under its parent folder.`,
		Args: cobra.ExactArgs(2),
		RunE: runMv,
	}
}

func runMv(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	srcPath, dstPath := args[0], args[1]

	s, err := openStore(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	acct, err := requireAccount(s)
	if err != nil {
		return err
	}

	priv, err := crypto.ParsePrivateKey(acct.PrivateKeyDER)
	if err != nil {
		return fmt.Errorf("parsing account key: %w", err)
	}

	files, err := s.All()
	if err != nil {
		return fmt.Errorf("loading local files: %w", err)
	}

	t := tree.Build(files)

	srcID, err := t.FindByPath(srcPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", srcPath, err)
	}

	root, _ := t.Root()
	if root != nil && srcID == root.ID {
		return fmt.Errorf("cannot move the root folder")
	}

	f := t.Get(srcID)

	newParentID, newName, err := resolveDest(t, root, f, dstPath)
	if err != nil {
		return err
	}

	if newParentID == f.ID {
		return fmt.Errorf("cannot move %s into itself", srcPath)
	}

	for _, d := range t.Descendants(f.ID) {
		if d.ID == newParentID {
			return fmt.Errorf("cannot move %s into its own descendant %s", srcPath, dstPath)
		}
	}

	for _, c := range t.Children(newParentID) {
		if c.ID == f.ID || c.Deleted {
			continue
		}

		if tree.NormalizeName(c.Name) == tree.NormalizeName(newName) {
			return fmt.Errorf("%s already has an entry named %q", dstPath, newName)
		}
	}

	f.Parent = newParentID
	f.Name = newName
	f.MetadataEditedLocally = true

	if err := f.Sign(priv); err != nil {
		return fmt.Errorf("signing %s: %w", srcPath, err)
	}

	if err := s.Put(f); err != nil {
		return fmt.Errorf("moving %s: %w", srcPath, err)
	}

	statusf(flagQuiet, "%s moved to %s. Run 'vaultsync sync' to push.\n", srcPath, dstPath)

	return nil
}

// resolveDest interprets dstPath against t: if it names an existing folder,
// the move keeps src's current name under that folder; otherwise dstPath's
// final segment becomes the new name under its parent, which must already
// exist as a folder.
func resolveDest(t *tree.Tree, root, src *store.FileMetadata, dstPath string) (parentID [16]byte, name string, err error) {
	if id, ferr := t.FindByPath(dstPath); ferr == nil {
		if existing := t.Get(id); existing != nil && existing.FileType == store.FileTypeFolder {
			return id, src.Name, nil
		}
	}

	trimmed := strings.Trim(dstPath, "/")
	if trimmed == "" {
		return [16]byte{}, "", fmt.Errorf("%s is not a valid destination", dstPath)
	}

	parentPath := path.Dir(trimmed)

	if parentPath == "." {
		if root == nil {
			return [16]byte{}, "", fmt.Errorf("local tree has no root")
		}

		return root.ID, path.Base(trimmed), nil
	}

	parentID, err = t.FindByPath(parentPath)
	if err != nil {
		return [16]byte{}, "", fmt.Errorf("resolving %s: %w", parentPath, err)
	}

	if parent := t.Get(parentID); parent == nil || parent.FileType != store.FileTypeFolder {
		return [16]byte{}, "", fmt.Errorf("%s is not a folder", parentPath)
	}

	return parentID, path.Base(trimmed), nil
}
