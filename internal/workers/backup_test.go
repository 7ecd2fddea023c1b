package workers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/mock"
)

var sealPrefix = []byte("sealed:")

func TestBackupWriter_Write(t *testing.T) {
	ctx := context.Background()
	storages, services := newTestStorages(t)
	owned := newOwned(t, storages, services)
	dir := t.TempDir()

	w := NewBackupWriter(storages.DB, services.Backup, nil, dir, "", logger.Nop())
	w.now = func() time.Time { return time.UnixMilli(1700000000000) }

	path, err := w.Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup-1700000000000.json.zst"), path)

	data, err := ReadBackupFile(path, nil, "")
	require.NoError(t, err)
	backup, err := services.Backup.Deserialize(data)
	require.NoError(t, err)
	require.Len(t, backup.Identities, 1)
	assert.Equal(t, owned.Identity, backup.Identities[0].OwnedIdentity.Identity)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary file is left behind")
}

func TestBackupWriter_WriteSealed(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	storages, services := newTestStorages(t)
	newOwned(t, storages, services)

	keyChain := mock.NewMockBackupKeyChain(ctrl)
	keyChain.EXPECT().Seal(gomock.Any(), "hunter2").
		DoAndReturn(func(plaintext []byte, _ string) ([]byte, error) {
			return append(append([]byte{}, sealPrefix...), plaintext...), nil
		})
	keyChain.EXPECT().Open(gomock.Any(), "hunter2").
		DoAndReturn(func(sealed []byte, _ string) ([]byte, error) {
			if !bytes.HasPrefix(sealed, sealPrefix) {
				return nil, crypto.ErrBackupKey
			}
			return sealed[len(sealPrefix):], nil
		})

	w := NewBackupWriter(storages.DB, services.Backup, keyChain, t.TempDir(), "hunter2", logger.Nop())
	path, err := w.Write(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".json.zst.sealed"))

	data, err := ReadBackupFile(path, keyChain, "hunter2")
	require.NoError(t, err)
	_, err = services.Backup.Deserialize(data)
	require.NoError(t, err)
}

func TestBackupWriter_WrittenAfterCommit(t *testing.T) {
	storages, services := newTestStorages(t)
	owned := newOwned(t, storages, services)

	written := make(chan string, 4)
	w := NewBackupWriter(storages.DB, services.Backup, nil, t.TempDir(), "", logger.Nop())
	w.OnWritten(func(path string, err error) {
		assert.NoError(t, err)
		written <- path
	})

	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)

	require.NoError(t, services.Identity.DeactivateOwnedIdentity(ctx, storages.DB.Session(ctx), owned.Identity))

	select {
	case path := <-written:
		assert.FileExists(t, path)
	case <-time.After(5 * time.Second):
		t.Fatal("backup was not written")
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("backup writer did not stop")
	}
}
