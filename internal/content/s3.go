package content

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/compliance-web/internal/cryptoutil"
	"github.com/keithlinneman/compliance-web/internal/log"
	"github.com/keithlinneman/compliance-web/internal/pathutil"
	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

// s3API is the subset of the S3 client used to read fragments.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ssmAPI is the subset of the SSM client used to read the revision.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SignatureVerifier checks a detached signature over a fragment.
// cryptoutil.KMSVerifier implements it.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type S3Options struct {
	Logger log.Logger

	// SSM parameter holding the current revision id
	SSMParam string

	// fragments live at s3://{bucket}/{prefix}/{revision}/{slug}.html
	Bucket string
	Prefix string

	// MaxBytes caps one fragment. Defaults to DefaultMaxFragmentBytes.
	MaxBytes int64

	// Verifier, when set, requires a {key}.sig object next to every fragment.
	Verifier SignatureVerifier

	// AWS config (uses default if nil)
	AWSConfig *aws.Config

	// clients for tests; built from the AWS config when nil
	S3Client  s3API
	SSMClient ssmAPI
}

type S3Source struct {
	opts   S3Options
	s3     s3API
	ssm    ssmAPI
	logger log.Logger
}

func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	var errs []error
	if opts.SSMParam == "" {
		errs = append(errs, errors.New("SSMParam is required"))
	}
	if opts.Bucket == "" {
		errs = append(errs, errors.New("Bucket is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, xerrors.WithStack(err)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxFragmentBytes
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	if opts.S3Client == nil || opts.SSMClient == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if opts.S3Client == nil {
			opts.S3Client = s3.NewFromConfig(awsCfg)
		}
		if opts.SSMClient == nil {
			opts.SSMClient = ssm.NewFromConfig(awsCfg)
		}
	}

	return &S3Source{
		opts:   opts,
		s3:     opts.S3Client,
		ssm:    opts.SSMClient,
		logger: opts.Logger,
	}, nil
}

// Revision reads the revision id from SSM.
func (s *S3Source) Revision(ctx context.Context) (string, error) {
	out, err := s.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", s.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", s.opts.SSMParam)
	}

	rev := strings.TrimSpace(*out.Parameter.Value)
	if !pathutil.ValidToken(rev) {
		return "", xerrors.Newf("SSM parameter %s holds an invalid revision %q", s.opts.SSMParam, rev)
	}
	return rev, nil
}

// key returns the object key for a fragment
func (s *S3Source) key(revision, slug string) string {
	return path.Join(s.opts.Prefix, revision, slug+".html")
}

func (s *S3Source) Fetch(ctx context.Context, revision, slug string) (frag *Fragment, err error) {
	if !pathutil.ValidSlug(slug) {
		return nil, ErrNotFound
	}
	if !pathutil.ValidToken(revision) {
		return nil, xerrors.Newf("invalid revision %q", revision)
	}

	key := s.key(revision, slug)
	ctx, span := otel.Tracer("compliance-web/content").Start(ctx, "content.s3.Fetch")
	span.SetAttributes(
		attribute.String("content.bucket", s.opts.Bucket),
		attribute.String("content.key", key),
	)
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
		}
		span.End()
	}()

	body, err := s.getObject(ctx, key)
	if err != nil {
		return nil, err
	}

	verified := false
	if s.opts.Verifier != nil {
		sig, err := s.getObject(ctx, key+".sig")
		if errors.Is(err, ErrNotFound) {
			return nil, xerrors.Newf("fragment s3://%s/%s has no signature", s.opts.Bucket, key)
		}
		if err != nil {
			return nil, err
		}
		if err := s.opts.Verifier.VerifySignature(ctx, body, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify fragment s3://%s/%s", s.opts.Bucket, key)
		}
		verified = true
	}

	sum := cryptoutil.SHA256Hex(body)
	s.logger.Debug(ctx, "fetched legacy fragment",
		"bucket", s.opts.Bucket,
		"key", key,
		"bytes", len(body),
		"sha256", sum,
		"verified", verified,
	)

	return &Fragment{
		Slug:      slug,
		Revision:  revision,
		HTML:      string(body),
		SHA256:    sum,
		Origin:    OriginS3,
		Verified:  verified,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (s *S3Source) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.opts.Bucket, key)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > s.opts.MaxBytes {
		return nil, xerrors.Newf("s3://%s/%s is %d bytes, limit %d", s.opts.Bucket, key, *out.ContentLength, s.opts.MaxBytes)
	}
	b, err := readCapped(out.Body, s.opts.MaxBytes)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", s.opts.Bucket, key)
	}
	return b, nil
}

// isNotFound matches both the modeled NoSuchKey error and the bare 404
// code S3 returns when the caller lacks ListBucket.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
