package storage

import (
	"context"
	"io"
	"slices"
	"testing"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type memBucket struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*in.Key] = data
	m.types[*in.Key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range m.objects {
		if len(k) >= len(*in.Prefix) && k[:len(*in.Prefix)] == *in.Prefix {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (m *memBucket) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, o := range in.Delete.Objects {
		delete(m.objects, *o.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestArtifactStore(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	bucket.objects["sessions/other/graph.ttl"] = []byte("keep")
	s := NewArtifactStore(bucket, "artifacts")

	err := s.SaveStage(ctx, store.StageArtifact{
		SessionID:   "s1",
		Record:      common.StageRecord{Stage: 2},
		Turtle:      "whole",
		StageTurtle: "stage",
	})
	if err != nil {
		t.Fatalf("SaveStage() error = %v", err)
	}

	var keys []string
	for k := range bucket.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	want := []string{"sessions/other/graph.ttl", "sessions/s1/graph.json", "sessions/s1/graph.ttl", "sessions/s1/stage-2.ttl"}
	if !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if bucket.types["sessions/s1/stage-2.ttl"] != "text/turtle" {
		t.Fatalf("unexpected content type %q", bucket.types["sessions/s1/stage-2.ttl"])
	}

	if got := string(bucket.objects["sessions/s1/stage-2.ttl"]); got != "stage" {
		t.Fatalf("stage object = %q", got)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if len(bucket.objects) != 1 {
		t.Fatalf("expected only the other session to remain, got %v", bucket.objects)
	}
}
