package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const (
	testSSMParam = "/compliance-web/content/revision"
	testBucket   = "legacy-content"
	testPrefix   = "fragments"
)

// fakeS3 is an in-memory object store keyed by object key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	gets    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.gets = append(f.gets, key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing " + key)}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// fakeSSM returns a fixed parameter value.
type fakeSSM struct {
	mu    sync.Mutex
	value *string
	err   error
	calls int
}

func ssmWithValue(v string) *fakeSSM { return &fakeSSM{value: aws.String(v)} }

func (f *fakeSSM) set(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = aws.String(v)
	f.err = nil
}

func (f *fakeSSM) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSSM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Name: in.Name, Value: f.value},
	}, nil
}

// fakeVerifier accepts a signature equal to "sig:" + message.
type fakeVerifier struct{}

func (fakeVerifier) VerifySignature(_ context.Context, message, signature []byte) error {
	if string(signature) != "sig:"+string(message) {
		return errors.New("bad signature")
	}
	return nil
}

func newTestS3Source(s3c *fakeS3, ssmc *fakeSSM, mut ...func(*S3Options)) *S3Source {
	opts := S3Options{
		SSMParam:  testSSMParam,
		Bucket:    testBucket,
		Prefix:    testPrefix,
		S3Client:  s3c,
		SSMClient: ssmc,
	}
	for _, m := range mut {
		m(&opts)
	}
	src, err := NewS3Source(context.Background(), opts)
	if err != nil {
		panic(err)
	}
	return src
}
