package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const backupPrefix = "backups/"

// ObjectStore is the slice of the S3 client the backup service needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// Backupable is a database that can write a consistent copy of itself.
type Backupable interface {
	Name() string
	BackupTo(destPath string) error
}

// BackupService snapshots every database into a tar.gz archive with a
// checksum manifest and uploads it, then rotates archives past retention.
type BackupService struct {
	store     ObjectStore
	databases []Backupable
	retention time.Duration
	log       zerolog.Logger
}

// NewBackupService creates a backup service.
func NewBackupService(store ObjectStore, databases []Backupable, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log.With().Str("component", "backup").Logger(),
	}
}

// RunBackup produces and uploads one archive, then rotates old ones.
// Rotation failures are logged but do not fail the backup: the new archive
// is already safe.
func (s *BackupService) RunBackup(ctx context.Context) error {
	staging, err := os.MkdirTemp("", "brokersync-backup-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	archivePath, err := s.buildArchive(staging)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	key := backupPrefix + filepath.Base(archivePath)
	if err := s.store.Upload(ctx, key, f); err != nil {
		return err
	}
	s.log.Info().Str("key", key).Msg("Backup uploaded")

	if err := s.rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// buildArchive snapshots each database via VACUUM INTO, then packs the
// copies and a sha256 manifest into a timestamped tar.gz.
func (s *BackupService) buildArchive(staging string) (string, error) {
	var entries []string
	manifest := &strings.Builder{}

	for _, db := range s.databases {
		copyPath := filepath.Join(staging, db.Name()+".db")
		if err := db.BackupTo(copyPath); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		sum, err := fileChecksum(copyPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s: %w", db.Name(), err)
		}
		fmt.Fprintf(manifest, "%s  %s.db\n", sum, db.Name())
		entries = append(entries, copyPath)
	}

	manifestPath := filepath.Join(staging, "SHA256SUMS")
	if err := os.WriteFile(manifestPath, []byte(manifest.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	entries = append(entries, manifestPath)

	archivePath := filepath.Join(staging,
		fmt.Sprintf("brokersync-%s.tar.gz", time.Now().UTC().Format("20060102T150405Z")))
	if err := writeTarGz(archivePath, entries); err != nil {
		return "", err
	}
	return archivePath, nil
}

func (s *BackupService) rotate(ctx context.Context) error {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.retention)
	for _, obj := range objects {
		if obj.LastModified.Before(cutoff) {
			if err := s.store.Delete(ctx, obj.Key); err != nil {
				return err
			}
			s.log.Debug().Str("key", obj.Key).Msg("Expired backup deleted")
		}
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeTarGz(destPath string, files []string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addTarEntry(tw, path); err != nil {
			return fmt.Errorf("failed to archive %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addTarEntry(tw *tar.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
