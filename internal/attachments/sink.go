package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"
)

// Sink stores one attachment payload under name. Put either stores the whole
// payload or returns an error; it never leaves a partial object behind.
type Sink interface {
	Put(ctx context.Context, name string, payload []byte) error
	Location(name string) string
}

// FileSink writes attachments as files in Dir.
type FileSink struct {
	fs  afero.Fs
	dir string
}

// NewFileSink returns a FileSink over fs, creating dir if needed.
func NewFileSink(fs afero.Fs, dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachments: file sink directory is required")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: create %s: %w", dir, err)
	}
	return &FileSink{fs: fs, dir: dir}, nil
}

// Put writes payload to a temporary file in the target directory and renames
// it over <dir>/<name>.
func (s *FileSink) Put(_ context.Context, name string, payload []byte) (err error) {
	tmp, err := afero.TempFile(s.fs, s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = s.fs.Rename(tmp.Name(), s.Location(name)); err != nil {
		return fmt.Errorf("rename into %s: %w", s.Location(name), err)
	}
	return nil
}

// Location returns the final file path of name.
func (s *FileSink) Location(name string) string { return filepath.Join(s.dir, name) }

// objectPutter is the part of *minio.Client ObjectSink uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Options addresses an S3-compatible bucket.
type S3Options struct {
	Endpoint  string // host:port or URL; an https URL implies UseSSL
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ObjectSink uploads attachments to an S3-compatible bucket.
type ObjectSink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewObjectSink builds a minio client for opts.
func NewObjectSink(opts S3Options) (*ObjectSink, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("attachments: s3 endpoint and bucket are required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("attachments: s3 credentials are required")
	}

	endpoint, useSSL := opts.Endpoint, opts.UseSSL
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = useSSL || u.Scheme == "https"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("attachments: minio client: %w", err)
	}
	return &ObjectSink{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Put uploads payload as <prefix>/<name>.
func (s *ObjectSink) Put(ctx context.Context, name string, payload []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.object(name), bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType(name)})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.object(name), err)
	}
	return nil
}

// contentType derives the object's media type from name's extension.
func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".xml":
		return "application/xml"
	case "":
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (s *ObjectSink) Location(name string) string {
	return "s3://" + s.bucket + "/" + s.object(name)
}

func (s *ObjectSink) object(name string) string {
	p := strings.Trim(s.prefix, "/")
	if p == "" {
		return name
	}
	return path.Join(p, name)
}
