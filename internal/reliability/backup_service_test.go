package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backupLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type fakeSource struct {
	name    string
	payload []byte
	err     error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) VacuumInto(destPath string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, f.payload, 0644)
}

type fakeStore struct {
	uploads map[string][]byte
	objects []RemoteObject
	deleted []string
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: map[string][]byte{}}
}

func (f *fakeStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]RemoteObject, error) {
	return f.objects, f.listErr
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func archiveKey(age time.Duration) string {
	return archivePrefix + time.Now().Add(-age).Format(archiveTimeLayout) + ".tar.gz"
}

func TestBackupService_RunUploadsArchiveWithManifest(t *testing.T) {
	store := newFakeStore()
	sources := []DatabaseSource{
		&fakeSource{name: "market", payload: []byte("market-bytes")},
		&fakeSource{name: "app", payload: []byte("app-bytes")},
	}
	svc := NewBackupService(store, sources, t.TempDir(), 14, backupLogger())

	require.NoError(t, svc.Run(context.Background()))
	require.Len(t, store.uploads, 1)

	var key string
	var data []byte
	for k, v := range store.uploads {
		key, data = k, v
	}
	_, ok := parseArchiveTimestamp(key)
	assert.True(t, ok, "archive name carries a parseable timestamp")

	entries := readArchive(t, data)
	require.Contains(t, entries, "market.db")
	require.Contains(t, entries, "app.db")
	require.Contains(t, entries, "manifest.json")
	assert.Equal(t, []byte("market-bytes"), entries["market.db"])

	var manifest ArchiveMetadata
	require.NoError(t, json.Unmarshal(entries["manifest.json"], &manifest))
	require.Len(t, manifest.Databases, 2)
	assert.Equal(t, "market", manifest.Databases[0].Name)
	assert.Contains(t, manifest.Databases[0].Checksum, "sha256:")
	assert.Equal(t, int64(len("market-bytes")), manifest.Databases[0].SizeBytes)
}

func TestBackupService_StagingFailureAborts(t *testing.T) {
	store := newFakeStore()
	sources := []DatabaseSource{
		&fakeSource{name: "market", err: fmt.Errorf("database locked")},
	}
	svc := NewBackupService(store, sources, t.TempDir(), 14, backupLogger())

	require.Error(t, svc.Run(context.Background()))
	assert.Empty(t, store.uploads)
}

func TestBackupService_RotateKeepsNewest(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 6; i++ {
		store.objects = append(store.objects, RemoteObject{
			Key: archiveKey(time.Duration(i) * 24 * time.Hour),
		})
	}
	svc := NewBackupService(store, nil, t.TempDir(), 4, backupLogger())

	require.NoError(t, svc.Rotate(context.Background()))
	require.Len(t, store.deleted, 2)
	// the two oldest archives go
	assert.Contains(t, store.deleted, store.objects[4].Key)
	assert.Contains(t, store.deleted, store.objects[5].Key)
}

func TestBackupService_RotateEnforcesMinimumKeep(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		store.objects = append(store.objects, RemoteObject{
			Key: archiveKey(time.Duration(i*100*24) * time.Hour),
		})
	}
	svc := NewBackupService(store, nil, t.TempDir(), 0, backupLogger())

	require.NoError(t, svc.Rotate(context.Background()))
	assert.Empty(t, store.deleted, "a zero keep budget still retains the floor")
}

func TestBackupService_ListArchivesIgnoresForeignKeys(t *testing.T) {
	store := newFakeStore()
	store.objects = []RemoteObject{
		{Key: archiveKey(time.Hour)},
		{Key: "unrelated-file.txt"},
		{Key: archivePrefix + "not-a-timestamp.tar.gz"},
	}
	svc := NewBackupService(store, nil, t.TempDir(), 14, backupLogger())

	archives, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	entries := map[string][]byte{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = content
	}
	return entries
}
