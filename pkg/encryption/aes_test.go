package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldEncryptor_RoundTrip(t *testing.T) {
	encryptor, err := NewFieldEncryptor("clinic-passphrase")
	require.NoError(t, err)

	ciphertext, err := encryptor.EncryptString("Type 2 Diabetes")
	require.NoError(t, err)
	assert.NotEqual(t, "Type 2 Diabetes", ciphertext)

	plaintext, err := encryptor.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "Type 2 Diabetes", plaintext)
}

func TestFieldEncryptor_EmptyStringsPassThrough(t *testing.T) {
	encryptor, err := NewFieldEncryptor("clinic-passphrase")
	require.NoError(t, err)

	ciphertext, err := encryptor.EncryptString("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := encryptor.DecryptString("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestFieldEncryptor_NoncesDiffer(t *testing.T) {
	encryptor, err := NewFieldEncryptor("clinic-passphrase")
	require.NoError(t, err)

	first, err := encryptor.EncryptString("Hypertension")
	require.NoError(t, err)
	second, err := encryptor.EncryptString("Hypertension")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestFieldEncryptor_WrongKeyFails(t *testing.T) {
	encryptor, err := NewFieldEncryptor("clinic-passphrase")
	require.NoError(t, err)
	other, err := NewFieldEncryptor("different-passphrase")
	require.NoError(t, err)

	ciphertext, err := encryptor.EncryptString("Hypertension")
	require.NoError(t, err)

	_, err = other.DecryptString(ciphertext)
	assert.Error(t, err)
}

func TestFieldEncryptor_RequiresPassphrase(t *testing.T) {
	_, err := NewFieldEncryptor("")
	assert.Error(t, err)
}
