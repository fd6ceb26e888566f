package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/OFFIS-RIT/stagegraph/internal/config"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// objectAPI is the part of *s3.Client the artifact store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// ArtifactStore implements store.Sink on an S3 bucket. For every stage it
// writes the stage Turtle, the whole-graph Turtle and the layout JSON under
// sessions/<id>/.
type ArtifactStore struct {
	client objectAPI
	bucket string
}

func NewArtifactStore(client objectAPI, bucket string) *ArtifactStore {
	return &ArtifactStore{client: client, bucket: bucket}
}

func (s *ArtifactStore) Name() string {
	return "s3"
}

func (s *ArtifactStore) SaveStage(ctx context.Context, a store.StageArtifact) error {
	layout, err := json.Marshal(a.Layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	objects := []struct {
		key         string
		contentType string
		body        []byte
	}{
		{store.ObjectKey(a.SessionID, a.Record.Stage, "ttl"), "text/turtle", []byte(a.StageTurtle)},
		{store.ObjectKey(a.SessionID, 0, "ttl"), "text/turtle", []byte(a.Turtle)},
		{store.ObjectKey(a.SessionID, 0, "json"), "application/json", layout},
	}
	for _, o := range objects {
		if err := s.PutFile(ctx, o.key, o.contentType, bytes.NewReader(o.body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArtifactStore) PutFile(ctx context.Context, key string, contentType string, file io.ReadSeeker) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

// DeleteSession removes every object under the session prefix.
func (s *ArtifactStore) DeleteSession(ctx context.Context, sessionID string) error {
	prefix := store.SessionPrefix(sessionID)
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return fmt.Errorf("failed to list objects in folder %s: %w", prefix, err)
		}
		if len(listOutput.Contents) == 0 {
			break
		}

		objectsToDelete := make([]types.ObjectIdentifier, 0, len(listOutput.Contents))
		for _, obj := range listOutput.Contents {
			objectsToDelete = append(objectsToDelete, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objectsToDelete,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in folder %s: %w", prefix, err)
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}
	return nil
}
