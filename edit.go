package main

import (
	"crypto/rsa"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vaultsync/core/internal/crypto"
	"github.com/vaultsync/core/internal/store"
	"github.com/vaultsync/core/internal/tree"
)

func newEditCmd() *cobra.Command {
	var sourcePath string

	cmd := &cobra.Command{
		Use:   "edit <remote-path>",
		Short: "Write new content to a document, creating it if it doesn't exist",
		Long: `Set a document's content to the contents of --file, or stdin if --file is
omitted. When --file is omitted and stdin is a terminal, $EDITOR (default vi)
is opened on the current content instead. Parent folders along remote-path
are created as needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, args[0], sourcePath)
		},
	}

	cmd.Flags().StringVar(&sourcePath, "file", "", "local file to read content from (default: stdin)")

	return cmd
}

func runEdit(cmd *cobra.Command, remotePath, sourcePath string) error {
	cc := mustCLIContext(cmd.Context())

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

	f, err := resolveOrCreatePath(s, t, priv, acct.Username, remotePath)
	if err != nil {
		return err
	}

	fileKey, err := fileKeyFor(priv, f)
	if err != nil {
		return fmt.Errorf("deriving file key: %w", err)
	}

	var plaintext []byte

	switch {
	case sourcePath != "":
		plaintext, err = os.ReadFile(sourcePath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", sourcePath, err)
		}
	case isatty.IsTerminal(os.Stdin.Fd()):
		plaintext, err = editInEditor(s, f, fileKey)
		if err != nil {
			return err
		}
	default:
		plaintext, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}

	// Snapshot the content as last pushed, before it's overwritten, so a
	// later three-way merge has a real ancestor instead of falling back to
	// treating the server's copy as its own ancestor. Only on the first
	// local edit since the last push — a second edit before syncing must
	// not clobber the snapshot with the first edit's (already-dirty) bytes.
	if !f.ContentEditedLocally {
		if existing, err := s.GetDocument(f.ID); err == nil {
			if err := s.PutBaseDocument(f.ID, existing); err != nil {
				return fmt.Errorf("snapshotting prior content: %w", err)
			}
		}
	}

	nonce, ciphertext, err := crypto.EncryptDocument(fileKey, plaintext)
	if err != nil {
		return fmt.Errorf("encrypting document: %w", err)
	}

	if err := s.PutDocument(f.ID, &store.Document{Nonce: nonce, Ciphertext: ciphertext}); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}

	f.ContentEditedLocally = true

	if err := s.Put(f); err != nil {
		return fmt.Errorf("updating file metadata: %w", err)
	}

	statusf(flagQuiet, "%s updated (%s). Run 'vaultsync sync' to push.\n", remotePath, formatSize(int64(len(plaintext))))

	return nil
}

// editInEditor seeds a temp file with f's current content (if any), opens
// $EDITOR on it, and returns the edited bytes. Grounded on the original CLI's
// interactive edit workflow: write-to-temp, shell out to the user's editor,
// read the result back.
func editInEditor(s *store.Store, f *store.FileMetadata, fileKey crypto.FileKey) ([]byte, error) {
	var existing []byte

	if doc, err := s.GetDocument(f.ID); err == nil {
		existing, err = crypto.DecryptDocument(fileKey, doc.Nonce, doc.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypting existing content: %w", err)
		}
	}

	tmp, err := os.CreateTemp("", "vaultsync-edit-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(existing); err != nil {
		tmp.Close()

		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	tmp.Close()

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.Command(editor, tmpPath)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s exited with an error, aborting edit: %w", editor, err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("reading edited content: %w", err)
	}

	return edited, nil
}

// resolveOrCreatePath finds the document at remotePath, creating it (and any
// missing parent folders) locally as new, dirty entries if absent.
func resolveOrCreatePath(s *store.Store, t *tree.Tree, priv *rsa.PrivateKey, owner, remotePath string) (*store.FileMetadata, error) {
	root, err := t.Root()
	if err != nil {
		return nil, fmt.Errorf("local tree has no root — run 'vaultsync new-account' or 'vaultsync import' first: %w", err)
	}

	trimmed := strings.Trim(remotePath, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("cannot edit the root folder")
	}

	segments := strings.Split(trimmed, "/")
	parent := root

	for i, seg := range segments {
		seg = tree.NormalizeName(seg)
		last := i == len(segments)-1

		var found *store.FileMetadata

		for _, c := range t.Children(parent.ID) {
			if c.Deleted {
				continue
			}

			if tree.NormalizeName(c.Name) == seg {
				found = c

				break
			}
		}

		if found != nil {
			parent = found

			continue
		}

		newFile := &store.FileMetadata{
			ID:         [16]byte(uuid.New()),
			FileType:   store.FileTypeDocument,
			Parent:     parent.ID,
			Name:       seg,
			Owner:      owner,
			NewLocally: true,
		}

		if !last {
			newFile.FileType = store.FileTypeFolder
		}

		if err := newFile.Sign(priv); err != nil {
			return nil, fmt.Errorf("signing %s: %w", remotePath, err)
		}

		if err := s.Put(newFile); err != nil {
			return nil, fmt.Errorf("creating %s: %w", remotePath, err)
		}

		if !last {
			parent = newFile

			continue
		}

		return newFile, nil
	}

	if parent.FileType != store.FileTypeDocument {
		return nil, fmt.Errorf("%s is a folder, not a document", remotePath)
	}

	return parent, nil
}

// fileKeyFor derives f's symmetric content key. Every file's key is wrapped
// directly under its owner's RSA public key — this repo does not yet wire
// the folder-key re-wrap chain needed for multi-user sharing, since rich ACL
// semantics beyond owner access are out of scope.
func fileKeyFor(priv *rsa.PrivateKey, f *store.FileMetadata) (crypto.FileKey, error) {
	wrapped, ok := f.UserAccessKeys[f.Owner]
	if !ok {
		key, err := crypto.GenerateFileKey()
		if err != nil {
			return crypto.FileKey{}, err
		}

		info, err := crypto.WrapFileKeyRSA(&priv.PublicKey, key)
		if err != nil {
			return crypto.FileKey{}, err
		}

		if f.UserAccessKeys == nil {
			f.UserAccessKeys = make(map[string][]byte)
		}

		f.UserAccessKeys[f.Owner] = info.WrappedKey

		return key, nil
	}

	return crypto.UnwrapFileKeyRSA(priv, crypto.AccessInfo{WrappedKey: wrapped})
}
