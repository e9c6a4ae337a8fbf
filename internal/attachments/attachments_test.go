package attachments

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpsync/internal/storage"
	"erpsync/internal/storage/sqlite"
)

func openNotes(t *testing.T) *sqlite.Repo {
	t.Helper()
	ctx := context.Background()
	r, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	repo := r.(*sqlite.Repo)
	require.NoError(t, repo.Exec(ctx, `CREATE TABLE notas (chave TEXT PRIMARY KEY, arquivo_xml BLOB)`))
	require.NoError(t, repo.Exec(ctx, `INSERT INTO notas VALUES ('K1', ?), ('K2', NULL), ('K3', ?)`,
		[]byte("<nfe>1</nfe>"), []byte("<nfe>3</nfe>")))
	return repo
}

var queries = Options{
	PendingQuery: `SELECT chave FROM notas ORDER BY chave`,
	FetchQuery:   `SELECT arquivo_xml FROM notas WHERE chave = @chave`,
}

func listFiles(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var out []string
	for _, fi := range infos {
		out = append(out, fi.Name())
	}
	sort.Strings(out)
	return out
}

func TestRunSync_NullPayloadCountsAsFailure(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "/out/xml")
	require.NoError(t, err)

	s := New(openNotes(t), sink, queries)
	st, err := s.RunSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Success)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, int64(24), st.Bytes)
	assert.Equal(t, []string{"K1.xml", "K3.xml"}, listFiles(t, fs, "/out/xml"))

	b, err := afero.ReadFile(fs, "/out/xml/K3.xml")
	require.NoError(t, err)
	assert.Equal(t, "<nfe>3</nfe>", string(b))
}

func TestSyncKeys_ConcurrentAndRateLimited(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "out")
	require.NoError(t, err)

	opts := queries
	opts.Workers = 4
	opts.RatePerSecond = 1000
	opts.Extension = ".XML"
	s := New(openNotes(t), sink, opts)

	st := s.SyncKeys(context.Background(), []string{"K3", "K1", "missing", "../etc/passwd"})
	assert.Equal(t, Stats{Total: 4, Success: 2, Failed: 2, Bytes: 24}, st)
	assert.Equal(t, []string{"K1.XML", "K3.XML"}, listFiles(t, fs, "out"))
}

func TestSyncKeys_Cancelled(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "out")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := New(openNotes(t), sink, queries).SyncKeys(ctx, []string{"K1", "K3"})
	assert.Equal(t, 2, st.Failed)
	assert.Empty(t, listFiles(t, fs, "out"))
}

type failingSink struct{}

func (failingSink) Put(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingSink) Location(name string) string               { return name }

func TestFetchAndStore_SinkFailure(t *testing.T) {
	t.Parallel()
	s := New(openNotes(t), failingSink{}, queries)
	assert.False(t, s.FetchAndStore(context.Background(), "K1"))
}

func TestDiscoverPendingKeys_Errors(t *testing.T) {
	t.Parallel()
	repo := openNotes(t)

	_, err := New(repo, failingSink{}, Options{}).DiscoverPendingKeys(context.Background())
	assert.Error(t, err)

	_, err = New(repo, failingSink{}, Options{PendingQuery: "SELECT chave FROM absent"}).RunSync(context.Background())
	assert.Error(t, err)

	keys, err := New(repo, failingSink{}, Options{PendingQuery: "SELECT upper(chave) AS k FROM notas ORDER BY 1"}).DiscoverPendingKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"K1", "K2", "K3"}, keys)
}

func TestFileSink_NoTempFilesLeft(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "d")
	require.NoError(t, err)

	require.NoError(t, sink.Put(context.Background(), "a.xml", []byte("1")))
	require.NoError(t, sink.Put(context.Background(), "a.xml", []byte("22")))
	assert.Equal(t, []string{"a.xml"}, listFiles(t, fs, "d"))

	_, err = NewFileSink(fs, "")
	assert.Error(t, err)
}

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+object] = b
	if f.types != nil {
		f.types[bucket+"/"+object] = opts.ContentType
	}
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestObjectSink(t *testing.T) {
	t.Parallel()
	p := &fakePutter{objects: map[string][]byte{}}
	sink := &ObjectSink{client: p, bucket: "nfe", prefix: "/xml/2024/"}

	st := New(openNotes(t), sink, queries).SyncKeys(context.Background(), []string{"K1"})
	assert.Equal(t, 1, st.Success)
	assert.Equal(t, []byte("<nfe>1</nfe>"), p.objects["nfe/xml/2024/K1.xml"])
	assert.Equal(t, "s3://nfe/xml/2024/K1.xml", sink.Location("K1.xml"))

	_, err := NewObjectSink(S3Options{Endpoint: "localhost:9000"})
	assert.Error(t, err)
	_, err = NewObjectSink(S3Options{Endpoint: "https://s3.local", Bucket: "b"})
	assert.Error(t, err)

	s3sink, err := NewObjectSink(S3Options{Endpoint: "https://s3.local:9000", Bucket: "b", AccessKey: "a", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "s3://b/K.xml", s3sink.Location("K.xml"))
}

func TestObjectSinkContentTypeFollowsExtension(t *testing.T) {
	t.Parallel()
	p := &fakePutter{objects: map[string][]byte{}, types: map[string]string{}}
	sink := &ObjectSink{client: p, bucket: "nfe"}
	ctx := context.Background()

	require.NoError(t, sink.Put(ctx, "K1.xml", []byte("<nfe/>")))
	require.NoError(t, sink.Put(ctx, "K1.json", []byte("{}")))
	require.NoError(t, sink.Put(ctx, "K1.danfe", []byte("x")))
	require.NoError(t, sink.Put(ctx, "K1", []byte("x")))

	assert.Equal(t, "application/xml", p.types["nfe/K1.xml"])
	assert.Equal(t, "application/json", p.types["nfe/K1.json"])
	assert.Equal(t, "application/octet-stream", p.types["nfe/K1.danfe"])
	assert.Equal(t, "application/octet-stream", p.types["nfe/K1"])
}
