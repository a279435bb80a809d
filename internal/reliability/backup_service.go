// Package reliability holds the backup pipeline: consistent sqlite copies,
// archive packaging and remote upload with rotation.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const archivePrefix = "marketpulse-backup-"

const archiveTimeLayout = "2006-01-02-150405"

// Archives newer than the keep budget survive rotation; this floor holds
// even when the budget is misconfigured to zero.
const minArchivesToKeep = 3

// DatabaseSource is one sqlite database that can produce a consistent
// point-in-time copy of itself.
type DatabaseSource interface {
	Name() string
	VacuumInto(destPath string) error
}

// ObjectStore is the remote archive bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]RemoteObject, error)
	Delete(ctx context.Context, key string) error
}

// ArchiveMetadata describes the databases inside one backup archive.
type ArchiveMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata is one database entry in the archive manifest.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo summarises one remote archive.
type ArchiveInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService stages consistent database copies, packs them into a
// tar.gz archive and ships it to the object store.
type BackupService struct {
	store        ObjectStore
	databases    []DatabaseSource
	dataDir      string
	keepArchives int
	log          zerolog.Logger
}

// NewBackupService wires the backup pipeline.
func NewBackupService(store ObjectStore, databases []DatabaseSource, dataDir string,
	keepArchives int, log zerolog.Logger) *BackupService {
	if keepArchives < minArchivesToKeep {
		keepArchives = minArchivesToKeep
	}
	return &BackupService{
		store:        store,
		databases:    databases,
		dataDir:      dataDir,
		keepArchives: keepArchives,
		log:          log.With().Str("service", "backup").Logger(),
	}
}

// Run creates and uploads one archive, then rotates old remote archives.
func (s *BackupService) Run(ctx context.Context) error {
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		Timestamp: start.UTC(),
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}
	var staged []string
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		destPath := filepath.Join(stagingDir, filename)
		if err := db.VacuumInto(destPath); err != nil {
			return fmt.Errorf("stage %s: %w", db.Name(), err)
		}

		info, err := os.Stat(destPath)
		if err != nil {
			return fmt.Errorf("stat staged %s: %w", filename, err)
		}
		checksum, err := fileChecksum(destPath)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", filename, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		staged = append(staged, filename)
	}

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, metadata); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	staged = append(staged, "manifest.json")

	archiveName := archivePrefix + start.Format(archiveTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, staged); err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return err
	}

	if err := s.Rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Archive rotation failed, backup itself succeeded")
	}

	s.log.Info().Str("archive", archiveName).Int("databases", len(s.databases)).
		Dur("elapsed", time.Since(start)).Msg("Backup uploaded")
	return nil
}

// ListArchives lists remote archives, newest first.
func (s *BackupService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseArchiveTimestamp(obj.Key)
		if !ok {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// Rotate deletes remote archives beyond the keep budget, oldest first.
func (s *BackupService) Rotate(ctx context.Context) error {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}
	if len(archives) <= s.keepArchives {
		return nil
	}

	deleted := 0
	for _, archive := range archives[s.keepArchives:] {
		if err := s.store.Delete(ctx, archive.Filename); err != nil {
			s.log.Error().Err(err).Str("archive", archive.Filename).Msg("Could not delete old archive")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("kept", len(archives)-deleted).
		Msg("Archive rotation complete")
	return nil
}

func parseArchiveTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeManifest(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("add %s to archive: %w", filename, err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
