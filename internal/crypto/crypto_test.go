package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAccountKeypair(t *testing.T) {
	kp, err := GenerateAccountKeypair()
	require.NoError(t, err)
	assert.Equal(t, rsaKeyBits, kp.Private.N.BitLen())
}

func TestWrapUnwrapFileKey(t *testing.T) {
	folderKey, err := GenerateFileKey()
	require.NoError(t, err)

	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	info, err := WrapFileKey(folderKey, fileKey)
	require.NoError(t, err)

	got, err := UnwrapFileKey(folderKey, info)
	require.NoError(t, err)
	assert.Equal(t, fileKey, got)
}

func TestUnwrapFileKeyWrongKeyFails(t *testing.T) {
	folderKey, err := GenerateFileKey()
	require.NoError(t, err)

	wrongKey, err := GenerateFileKey()
	require.NoError(t, err)

	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	info, err := WrapFileKey(folderKey, fileKey)
	require.NoError(t, err)

	_, err = UnwrapFileKey(wrongKey, info)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadCiphertext))
}

func TestWrapUnwrapFileKeyRSA(t *testing.T) {
	kp, err := GenerateAccountKeypair()
	require.NoError(t, err)

	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	info, err := WrapFileKeyRSA(kp.Public, fileKey)
	require.NoError(t, err)

	got, err := UnwrapFileKeyRSA(kp.Private, info)
	require.NoError(t, err)
	assert.Equal(t, fileKey, got)
}

func TestEncryptDecryptDocument(t *testing.T) {
	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")

	nonce, ciphertext, err := EncryptDocument(fileKey, plaintext)
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := DecryptDocument(fileKey, nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptDocumentTamperedFails(t *testing.T) {
	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	nonce, ciphertext, err := EncryptDocument(fileKey, []byte("hello"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF

	_, err = DecryptDocument(fileKey, nonce, ciphertext)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadCiphertext))
}

func TestSignVerifyMetadata(t *testing.T) {
	kp, err := GenerateAccountKeypair()
	require.NoError(t, err)

	fields := CanonicalFields{
		ID:              [16]byte{1},
		Parent:          [16]byte{2},
		Name:            "notes.md",
		FileType:        0,
		Deleted:         false,
		MetadataVersion: 7,
	}

	bytes := CanonicalBytes(fields)

	sig, err := SignMetadata(kp.Private, bytes)
	require.NoError(t, err)

	require.NoError(t, VerifyMetadata(kp.Public, bytes, sig))
}

func TestVerifyMetadataRejectsTamperedFields(t *testing.T) {
	kp, err := GenerateAccountKeypair()
	require.NoError(t, err)

	fields := CanonicalFields{ID: [16]byte{1}, Name: "a", MetadataVersion: 1}
	bytes := CanonicalBytes(fields)

	sig, err := SignMetadata(kp.Private, bytes)
	require.NoError(t, err)

	tampered := fields
	tampered.Name = "b"

	err = VerifyMetadata(kp.Public, CanonicalBytes(tampered), sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestMarshalParsePublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateAccountKeypair()
	require.NoError(t, err)

	der, err := MarshalPublicKey(kp.Public)
	require.NoError(t, err)

	got, err := ParsePublicKey(der)
	require.NoError(t, err)
	assert.True(t, kp.Public.Equal(got))
}

func TestMarshalParsePrivateKeyRoundTrip(t *testing.T) {
	kp, err := GenerateAccountKeypair()
	require.NoError(t, err)

	der, err := MarshalPrivateKey(kp.Private)
	require.NoError(t, err)

	got, err := ParsePrivateKey(der)
	require.NoError(t, err)
	assert.True(t, kp.Private.Equal(got))
}
