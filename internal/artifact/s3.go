package artifact

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
)

var _ Store = (*S3Store)(nil)

// S3Config configures the object-store artifact backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Store publishes artifacts to an S3-compatible object store. Object PUTs
// are atomic on the store side, so a published key is always complete.
type S3Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	stageDir string // local scratch dir for Resolve downloads
}

func NewS3Store(cfg S3Config, stageDir string) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		stageDir: stageDir,
	}, nil
}

// Publish implements Store.
func (s *S3Store) Publish(ctx context.Context, localFile string, stage pipeline.Stage, p string) (string, error) {
	key := s.objectKey(stage, p)
	if _, err := s.client.FPutObject(ctx, s.bucket, key, localFile, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return "", fmt.Errorf("failed to upload artifact %s: %w", key, err)
	}
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	logger.Debug(ctx, "Published artifact",
		tag.Stage(string(stage)),
		tag.Artifact(uri))
	return uri, nil
}

// Resolve implements Store. The object is downloaded into the scratch
// directory and the local path returned.
func (s *S3Store) Resolve(ctx context.Context, stage pipeline.Stage, p string) (string, error) {
	key := s.objectKey(stage, p)
	local := filepath.Join(s.stageDir, string(stage), fileutil.SafeName(p)+".parquet")
	if err := fileutil.EnsureDir(filepath.Dir(local)); err != nil {
		return "", err
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, local, minio.GetObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: s3://%s/%s", ErrArtifactNotFound, s.bucket, key)
		}
		return "", fmt.Errorf("failed to download artifact %s: %w", key, err)
	}
	return local, nil
}

func (s *S3Store) objectKey(stage pipeline.Stage, p string) string {
	name := fileutil.SafeName(p) + ".parquet"
	if s.prefix != "" {
		return path.Join(s.prefix, string(stage), name)
	}
	return path.Join(string(stage), name)
}
