package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/retry"
	"lsmcloud/pkg/types"
)

// clientsOnce marks the process-wide init point of spec.md §9's
// "process-wide init, reference-counted" note. The AWS SDK v2 needs no
// global init or teardown, so the Once runs an empty function, installs
// no middleware, and nothing is released.
var clientsOnce sync.Once

// S3Client implements Client against an S3-compatible object store.
type S3Client struct {
	cli          *s3.Client
	retryBudget  time.Duration
	listPageSize int
}

// S3Config carries the subset of internal/config.Config the adapter
// needs to build an aws.Config: region, static credentials (falling back
// to the ambient provider chain when blank), and an optional custom
// endpoint for S3-compatible stores that aren't AWS itself.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	RetryBudget     time.Duration
	ListPageSize    int
}

// NewS3Client builds an S3Client from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	clientsOnce.Do(func() {})

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, dberrors.New(dberrors.Internal, "objstore.NewS3Client", err)
	}

	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	budget := cfg.RetryBudget
	if budget <= 0 {
		budget = retry.DefaultBudget
	}
	pageSize := cfg.ListPageSize
	if pageSize <= 0 {
		pageSize = DefaultListPageSize
	}

	return &S3Client{cli: cli, retryBudget: budget, listPageSize: pageSize}, nil
}

func (c *S3Client) Put(ctx context.Context, prefix types.Prefix, key string, data []byte, opts Opts) error {
	objKey := prefix.Key(key)
	return retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		input := &s3.PutObjectInput{
			Bucket:        awssdk.String(prefix.Bucket),
			Key:           awssdk.String(objKey),
			Body:          bytes.NewReader(data),
			ContentLength: awssdk.Int64(int64(len(data))),
		}
		if opts.ServerSideEncryption {
			input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
			if opts.EncryptionKeyID != "" {
				input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
				input.SSEKMSKeyId = awssdk.String(opts.EncryptionKeyID)
			}
		}
		_, err := c.cli.PutObject(ctx, input)
		return classify(err, "objstore.Put")
	})
}

func (c *S3Client) Get(ctx context.Context, prefix types.Prefix, key string, offset, length int64) ([]byte, error) {
	objKey := prefix.Key(key)
	var body []byte
	err := retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		input := &s3.GetObjectInput{
			Bucket: awssdk.String(prefix.Bucket),
			Key:    awssdk.String(objKey),
		}
		if length > 0 {
			input.Range = awssdk.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else if offset > 0 {
			input.Range = awssdk.String(fmt.Sprintf("bytes=%d-", offset))
		} else if offset == 0 && length == 0 {
			// Existence/size probe: a single-byte range avoids downloading
			// the whole object while still exercising a real GET (list is
			// eventually consistent, so it cannot stand in for existence).
			input.Range = awssdk.String("bytes=0-0")
		}

		out, err := c.cli.GetObject(ctx, input)
		if err != nil {
			return classify(err, "objstore.Get")
		}
		defer out.Body.Close()

		data, rerr := io.ReadAll(out.Body)
		if rerr != nil {
			return dberrors.New(dberrors.Transient, "objstore.Get", rerr)
		}
		if offset == 0 && length == 0 {
			// The probe only wants to know the object exists; return no
			// bytes rather than the single probed byte.
			body = nil
			return nil
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *S3Client) Head(ctx context.Context, prefix types.Prefix, key string) (ObjectInfo, error) {
	// A real HeadObject call, grounded on aws_s3.cc's
	// S3ReadableFile::GetFileInfo: S3 HeadObject is strongly consistent,
	// so there is no reason to pay for a Get just to read metadata.
	objKey := prefix.Key(key)
	var info ObjectInfo
	err := retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		out, err := c.cli.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: awssdk.String(prefix.Bucket),
			Key:    awssdk.String(objKey),
		})
		if err != nil {
			return classify(err, "objstore.Head")
		}
		info = ObjectInfo{Key: key}
		if out.ContentLength != nil {
			info.Size = *out.ContentLength
		}
		if out.LastModified != nil {
			info.ModTime = *out.LastModified
		}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

func (c *S3Client) List(ctx context.Context, prefix types.Prefix, subPrefix, marker string, max int) ([]ObjectInfo, string, error) {
	if max <= 0 || max > c.listPageSize {
		max = c.listPageSize
	}
	listPrefix := prefix.Key(subPrefix)

	var infos []ObjectInfo
	var nextMarker string
	err := retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		input := &s3.ListObjectsV2Input{
			Bucket:  awssdk.String(prefix.Bucket),
			Prefix:  awssdk.String(listPrefix),
			MaxKeys: awssdk.Int32(int32(max)),
		}
		if marker != "" {
			input.StartAfter = awssdk.String(prefix.Key(marker))
		}
		out, err := c.cli.ListObjectsV2(ctx, input)
		if err != nil {
			return classify(err, "objstore.List")
		}
		infos = infos[:0]
		for _, obj := range out.Contents {
			info := ObjectInfo{}
			if obj.Key != nil {
				info.Key = stripPrefix(prefix, *obj.Key)
			}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			infos = append(infos, info)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
		if awssdk.ToBool(out.IsTruncated) && len(infos) > 0 {
			nextMarker = infos[len(infos)-1].Key
		} else {
			nextMarker = ""
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return infos, nextMarker, nil
}

func (c *S3Client) Delete(ctx context.Context, prefix types.Prefix, key string) error {
	objKey := prefix.Key(key)
	return retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		_, err := c.cli.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: awssdk.String(prefix.Bucket),
			Key:    awssdk.String(objKey),
		})
		cerr := classify(err, "objstore.Delete")
		// Delete is idempotent: NotFound is success.
		if dberrors.Is(cerr, dberrors.NotFound) {
			return nil
		}
		return cerr
	})
}

func (c *S3Client) Copy(ctx context.Context, srcPrefix types.Prefix, srcKey string, dstPrefix types.Prefix, dstKey string) error {
	source := srcPrefix.Bucket + "/" + srcPrefix.Key(srcKey)
	dstObjKey := dstPrefix.Key(dstKey)
	return retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		_, err := c.cli.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     awssdk.String(dstPrefix.Bucket),
			Key:        awssdk.String(dstObjKey),
			CopySource: awssdk.String(source),
		})
		return classify(err, "objstore.Copy")
	})
}

func (c *S3Client) CreateBucket(ctx context.Context, prefix types.Prefix) error {
	return retry.Do(ctx, c.retryBudget, retry.Transient, func() error {
		_, err := c.cli.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: awssdk.String(prefix.Bucket),
		})
		cerr := classify(err, "objstore.CreateBucket")
		var alreadyOwned *s3types.BucketAlreadyOwnedByYou
		var alreadyExists *s3types.BucketAlreadyExists
		if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
			return nil
		}
		return cerr
	})
}

func stripPrefix(prefix types.Prefix, key string) string {
	p := prefix.Path
	if p == "" {
		return key
	}
	p += "/"
	if len(key) > len(p) && key[:len(p)] == p {
		return key[len(p):]
	}
	return key
}

// classify translates an AWS SDK v2 error into a dberrors.Error, the
// adapter-boundary translation the propagation policy requires: no
// wire-level error escapes the adapter.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var nf *s3types.NoSuchKey
	if errors.As(err, &nf) {
		return dberrors.New(dberrors.NotFound, op, err)
	}
	var nb *s3types.NoSuchBucket
	if errors.As(err, &nb) {
		return dberrors.New(dberrors.NotFound, op, err)
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return dberrors.New(dberrors.NotFound, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket", "404":
			return dberrors.New(dberrors.NotFound, op, err)
		case "InternalError", "ServiceUnavailable", "SlowDown", "RequestTimeout", "Throttling":
			return dberrors.New(dberrors.Transient, op, err)
		}
	}

	var respErr *smithy.GenericAPIError
	if errors.As(err, &respErr) && respErr.Code != "" {
		return dberrors.New(dberrors.Permanent, op, err)
	}

	// Network errors (timeouts, connection reset, DNS) surface from the
	// HTTP transport without a smithy API error attached; treat them as
	// transient so the retry loop covers 5xx-equivalent failures too.
	return dberrors.New(dberrors.Transient, op, err)
}
