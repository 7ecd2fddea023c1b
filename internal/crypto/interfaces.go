package crypto

//go:generate mockgen -source=interfaces.go -destination=../mock/keychain_mock.go -package=mock

// BackupKeyChain protects full backups with a user password.
//
// Scheme:
//
//	Salt, DEK  = random                          (per backup)
//	KEK        = Argon2id(password, salt)
//	WrappedDEK = AES-GCM(KEK, DEK)
//	Body       = AES-GCM(DEK, backup)
type BackupKeyChain interface {
	// Seal encrypts a serialized backup under password.
	Seal(plaintext []byte, password string) ([]byte, error)

	// Open decrypts the output of Seal. A wrong password yields
	// ErrBackupKey.
	Open(sealed []byte, password string) ([]byte, error)
}
