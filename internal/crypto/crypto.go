// Package crypto implements the cryptographic primitives the sync engine
// relies on: account keypair generation, per-file symmetric key wrapping,
// document encryption, and detached metadata signatures. Every function is
// stateless over explicit key parameters — this package never persists key
// material itself; that is the local store's job.
package crypto

import (
	stdcrypto "crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel errors, classified with errors.Is at call sites.
var (
	ErrBadCiphertext = errors.New("crypto: bad ciphertext")
	ErrBadSignature  = errors.New("crypto: bad signature")
	ErrKeyMismatch   = errors.New("crypto: key mismatch")
)

const (
	rsaKeyBits  = 2048
	fileKeyBits = 256 / 8 // AES-256
	nonceBytes  = 12      // 96-bit GCM nonce
)

// KeyPair is an account's RSA-2048 keypair.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateAccountKeypair creates a fresh RSA-2048 keypair for a new account.
func GenerateAccountKeypair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generating account keypair: %w", err)
	}

	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// FileKey is a per-file AES-256 symmetric key.
type FileKey [fileKeyBits]byte

// GenerateFileKey creates a fresh random per-file AES-256 key.
func GenerateFileKey() (FileKey, error) {
	var key FileKey

	if _, err := rand.Read(key[:]); err != nil {
		return FileKey{}, fmt.Errorf("crypto: generating file key: %w", err)
	}

	return key, nil
}

// AccessInfo is a file key wrapped under a wrapping key (a folder key or an
// owner's RSA public key), forming one link in the access chain from the
// account to a file.
type AccessInfo struct {
	// WrappedKey is the file key ciphertext.
	WrappedKey []byte
	// Nonce is set when WrappedKey was produced by WrapFileKey (AES-GCM);
	// empty when it was produced by WrapFileKeyRSA.
	Nonce []byte
}

// WrapFileKey encrypts fileKey under folderKey using AES-256-GCM. This is
// used to re-wrap a file's key under its parent folder's key as part of the
// folder_access_keys chain.
func WrapFileKey(folderKey FileKey, fileKey FileKey) (AccessInfo, error) {
	aead, err := newAEAD(folderKey)
	if err != nil {
		return AccessInfo{}, err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return AccessInfo{}, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce, fileKey[:], nil)

	return AccessInfo{WrappedKey: ct, Nonce: nonce}, nil
}

// UnwrapFileKey decrypts an AccessInfo produced by WrapFileKey, recovering
// the per-file symmetric key.
func UnwrapFileKey(folderKey FileKey, info AccessInfo) (FileKey, error) {
	aead, err := newAEAD(folderKey)
	if err != nil {
		return FileKey{}, err
	}

	pt, err := aead.Open(nil, info.Nonce, info.WrappedKey, nil)
	if err != nil {
		return FileKey{}, fmt.Errorf("%w: unwrapping file key: %v", ErrBadCiphertext, err)
	}

	if len(pt) != fileKeyBits {
		return FileKey{}, fmt.Errorf("%w: unwrapped key has wrong length %d", ErrKeyMismatch, len(pt))
	}

	var key FileKey
	copy(key[:], pt)

	return key, nil
}

// WrapFileKeyRSA encrypts fileKey directly under an owner's or sharee's RSA
// public key (RSA-OAEP with SHA-256), used for user_access_keys entries.
func WrapFileKeyRSA(pub *rsa.PublicKey, fileKey FileKey) (AccessInfo, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, fileKey[:], nil)
	if err != nil {
		return AccessInfo{}, fmt.Errorf("crypto: RSA-wrapping file key: %w", err)
	}

	return AccessInfo{WrappedKey: ct}, nil
}

// UnwrapFileKeyRSA decrypts an AccessInfo produced by WrapFileKeyRSA.
func UnwrapFileKeyRSA(priv *rsa.PrivateKey, info AccessInfo) (FileKey, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, info.WrappedKey, nil)
	if err != nil {
		return FileKey{}, fmt.Errorf("%w: RSA-unwrapping file key: %v", ErrBadCiphertext, err)
	}

	if len(pt) != fileKeyBits {
		return FileKey{}, fmt.Errorf("%w: unwrapped key has wrong length %d", ErrKeyMismatch, len(pt))
	}

	var key FileKey
	copy(key[:], pt)

	return key, nil
}

// EncryptDocument encrypts plaintext document content under fileKey using
// AES-256-GCM. The nonce is 96-bit random and is never reused for a given
// key — each call draws a fresh one from crypto/rand.
func EncryptDocument(fileKey FileKey, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(fileKey)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: generating document nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)

	return nonce, ciphertext, nil
}

// DecryptDocument reverses EncryptDocument.
func DecryptDocument(fileKey FileKey, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(fileKey)
	if err != nil {
		return nil, err
	}

	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting document: %v", ErrBadCiphertext, err)
	}

	return pt, nil
}

func newAEAD(key FileKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing GCM: %w", err)
	}

	return aead, nil
}

// CanonicalFields is the deterministic subset of FileMetadata that is signed
// and verified — exactly {id, parent, name, file_type, deleted,
// metadata_version}, matching the wire/storage-independent canonical form.
type CanonicalFields struct {
	ID              [16]byte
	Parent          [16]byte
	Name            string
	FileType        uint8 // 0 = Document, 1 = Folder
	Deleted         bool
	MetadataVersion uint64
}

// CanonicalBytes produces the deterministic byte encoding of f that is
// signed and verified. The encoding is length-prefixed and fixed-order so
// that two equal CanonicalFields values always produce identical bytes.
func CanonicalBytes(f CanonicalFields) []byte {
	buf := make([]byte, 0, 16+16+2+len(f.Name)+1+1+8)

	buf = append(buf, f.ID[:]...)
	buf = append(buf, f.Parent[:]...)

	nameLen := make([]byte, 2)
	binary.BigEndian.PutUint16(nameLen, uint16(len(f.Name))) //nolint:gosec // names are bounded well under 64KiB
	buf = append(buf, nameLen...)
	buf = append(buf, f.Name...)

	buf = append(buf, f.FileType)

	if f.Deleted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	version := make([]byte, 8)
	binary.BigEndian.PutUint64(version, f.MetadataVersion)
	buf = append(buf, version...)

	return buf
}

// SignMetadata produces a detached RSA-PKCS1v15/SHA-256 signature over the
// canonical bytes of a file's metadata.
func SignMetadata(priv *rsa.PrivateKey, canonicalBytes []byte) ([]byte, error) {
	digest := sha256.Sum256(canonicalBytes)

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: signing metadata: %w", err)
	}

	return sig, nil
}

// VerifyMetadata checks a detached signature produced by SignMetadata.
// Verification failure is never silent: callers must log and quarantine the
// affected file rather than applying it.
func VerifyMetadata(pub *rsa.PublicKey, canonicalBytes, sig []byte) error {
	digest := sha256.Sum256(canonicalBytes)

	if err := rsa.VerifyPKCS1v15(pub, stdcrypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	return nil
}

// MarshalPublicKey encodes an RSA public key as DER (PKIX), suitable for
// storing in the account bucket or transmitting to the server.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshaling public key: %w", err)
	}

	return der, nil
}

// ParsePublicKey decodes a DER-encoded (PKIX) RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing public key: %w", err)
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrKeyMismatch)
	}

	return pub, nil
}

// MarshalPrivateKey encodes an RSA private key as PKCS#8 DER.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshaling private key: %w", err)
	}

	return der, nil
}

// ParsePrivateKey decodes a PKCS#8 DER-encoded RSA private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing private key: %w", err)
	}

	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrKeyMismatch)
	}

	return priv, nil
}
