package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/tree"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every file and folder in the local tree",
		RunE:  runList,
	}
}

type listEntry struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Deleted bool   `json:"deleted,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

func runList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

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

	entries := make([]listEntry, 0, len(files))

	for _, f := range files {
		if f.Deleted && !f.IsDirty() {
			continue
		}

		path, err := t.ToPath(f.ID)
		if err != nil {
			continue
		}

		typ := "file"
		if f.FileType == store.FileTypeFolder {
			typ = "folder"
		}

		entries = append(entries, listEntry{Path: path, Type: typ, Deleted: f.Deleted, Dirty: f.IsDirty()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	for _, e := range entries {
		marker := ""
		if e.Dirty {
			marker = " *"
		}

		fmt.Printf("%s%s\n", e.Path, marker)
	}

	return nil
}
