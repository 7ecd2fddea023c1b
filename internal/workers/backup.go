package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/MKhiriev/go-trust-engine/internal/crypto"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/service"
	"github.com/MKhiriev/go-trust-engine/internal/store"
)

const (
	backupFilePrefix      = "backup-"
	backupExtension       = ".json.zst"
	sealedBackupExtension = ".json.zst.sealed"
)

// BackupWriter writes a full backup to disk after commits that recorded a
// backup-needed event. Requests arriving while a backup is being written
// are coalesced into one more backup.
type BackupWriter struct {
	backup   service.BackupService
	keyChain crypto.BackupKeyChain
	password string
	dir      string

	encoder   *zstd.Encoder
	pending   chan struct{}
	done      chan struct{}
	onWritten func(path string, err error)

	logger *logger.Logger
	now    func() time.Time
}

// NewBackupWriter registers a commit hook on db. Backups are sealed with
// keyChain when password is not empty.
func NewBackupWriter(db *store.DB, backup service.BackupService, keyChain crypto.BackupKeyChain, dir, password string, logger *logger.Logger) *BackupWriter {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	w := &BackupWriter{
		backup:   backup,
		keyChain: keyChain,
		password: password,
		dir:      dir,
		encoder:  encoder,
		pending:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
		now:      time.Now,
	}
	db.OnCommit(w.hook)
	return w
}

// OnWritten sets a callback invoked after every backup attempt. It must be
// called before Run.
func (w *BackupWriter) OnWritten(fn func(path string, err error)) {
	w.onWritten = fn
}

func (w *BackupWriter) hook(_ context.Context, events []store.Event) {
	for _, e := range events {
		if e.Kind == store.EventBackupNeeded {
			w.request()
			return
		}
	}
}

func (w *BackupWriter) request() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

func (w *BackupWriter) Run(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.pending:
				path, err := w.Write(ctx)
				if err != nil {
					w.logger.Err(err).Str("func", "*BackupWriter.Run").Msg("error writing backup")
				} else {
					w.logger.Info().Str("path", path).Msg("backup written")
				}
				if w.onWritten != nil {
					w.onWritten(path, err)
				}
			}
		}
	}()
}

func (w *BackupWriter) Done() <-chan struct{} {
	return w.done
}

// Write serializes, compresses and optionally seals a full backup, then
// stores it atomically in the backup directory. It returns the file path.
func (w *BackupWriter) Write(ctx context.Context) (string, error) {
	data, err := w.backup.Serialize(ctx)
	if err != nil {
		return "", fmt.Errorf("serialize backup: %w", err)
	}
	data = w.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))

	ext := backupExtension
	if w.password != "" {
		if data, err = w.keyChain.Seal(data, w.password); err != nil {
			return "", fmt.Errorf("seal backup: %w", err)
		}
		ext = sealedBackupExtension
	}

	if err = os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(w.dir, ".backup-*")
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write backup file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close backup file: %w", err)
	}

	path := filepath.Join(w.dir, backupFilePrefix+strconv.FormatInt(w.now().UnixMilli(), 10)+ext)
	if err = os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename backup file: %w", err)
	}
	return path, nil
}

// ReadBackupFile reverses [BackupWriter.Write]. password is required for
// sealed files.
func ReadBackupFile(path string, keyChain crypto.BackupKeyChain, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == filepath.Ext(sealedBackupExtension) {
		if data, err = keyChain.Open(data, password); err != nil {
			return nil, fmt.Errorf("open sealed backup: %w", err)
		}
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
