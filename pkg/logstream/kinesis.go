package logstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/smithy-go"

	"lsmcloud/pkg/dberrors"
	"lsmcloud/pkg/retry"
)

// KinesisClient implements Client against a Kinesis-compatible stream
// service. Grounded on the object-store adapter's shape (pkg/objstore):
// same retry/classify split, same "thin façade, no business logic" rule.
type KinesisClient struct {
	cli         *kinesis.Client
	retryBudget time.Duration
}

// KinesisConfig mirrors S3Config's shape for the stream adapter.
type KinesisConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	RetryBudget     time.Duration
}

func NewKinesisClient(ctx context.Context, cfg KinesisConfig) (*KinesisClient, error) {
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
		return nil, dberrors.New(dberrors.Internal, "logstream.NewKinesisClient", err)
	}

	cli := kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
	})

	budget := cfg.RetryBudget
	if budget <= 0 {
		budget = retry.DefaultBudget
	}

	return &KinesisClient{cli: cli, retryBudget: budget}, nil
}

func (k *KinesisClient) CreateStream(ctx context.Context, name string, shards int) error {
	if shards <= 0 {
		shards = 1
	}
	err := retry.Do(ctx, k.retryBudget, retry.Transient, func() error {
		_, err := k.cli.CreateStream(ctx, &kinesis.CreateStreamInput{
			StreamName: awssdk.String(name),
			ShardCount: awssdk.Int32(int32(shards)),
		})
		var already *kinesistypes.ResourceInUseException
		if errors.As(err, &already) {
			return nil
		}
		return classifyKinesis(err, "logstream.CreateStream")
	})
	if err != nil {
		return err
	}
	return k.waitActive(ctx, name)
}

func (k *KinesisClient) waitActive(ctx context.Context, name string) error {
	return retry.Do(ctx, k.retryBudget, retry.Transient, func() error {
		out, err := k.cli.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
			StreamName: awssdk.String(name),
		})
		if err != nil {
			return classifyKinesis(err, "logstream.CreateStream")
		}
		if out.StreamDescriptionSummary.StreamStatus != kinesistypes.StreamStatusActive {
			return dberrors.New(dberrors.Transient, "logstream.CreateStream", fmt.Errorf("stream %s not yet ACTIVE", name))
		}
		return nil
	})
}

func (k *KinesisClient) Append(ctx context.Context, name string, rec Record) (Cursor, error) {
	if len(rec.Payload) > MaxRecordBytes {
		return Cursor{}, dberrors.New(dberrors.Permanent, "logstream.Append",
			fmt.Errorf("record of %d bytes exceeds %d byte limit", len(rec.Payload), MaxRecordBytes))
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return Cursor{}, dberrors.New(dberrors.Internal, "logstream.Append", err)
	}

	var cursor Cursor
	err = retry.Do(ctx, k.retryBudget, retry.Transient, func() error {
		out, perr := k.cli.PutRecord(ctx, &kinesis.PutRecordInput{
			StreamName:   awssdk.String(name),
			Data:         data,
			PartitionKey: awssdk.String(rec.Path),
		})
		if perr != nil {
			return classifyKinesis(perr, "logstream.Append")
		}
		cursor = Cursor{
			Shard: Shard(awssdk.ToString(out.ShardId)),
			Seqno: Seqno(awssdk.ToString(out.SequenceNumber)),
		}
		return nil
	})
	if err != nil {
		return Cursor{}, err
	}
	return cursor, nil
}

func (k *KinesisClient) Read(ctx context.Context, name string, shard Shard, fromSeqno Seqno) (func() (Record, Cursor, bool, error), error) {
	iterType := kinesistypes.ShardIteratorTypeLatest
	var startingSeq *string
	if fromSeqno != SeqnoLatest {
		iterType = kinesistypes.ShardIteratorTypeAfterSequenceNumber
		startingSeq = awssdk.String(string(fromSeqno))
	}

	var shardIter *string
	err := retry.Do(ctx, k.retryBudget, retry.Transient, func() error {
		out, err := k.cli.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
			StreamName:             awssdk.String(name),
			ShardId:                awssdk.String(string(shard)),
			ShardIteratorType:      iterType,
			StartingSequenceNumber: startingSeq,
		})
		if err != nil {
			return classifyKinesis(err, "logstream.Read")
		}
		shardIter = out.ShardIterator
		return nil
	})
	if err != nil {
		return nil, err
	}

	pending := make([]kinesistypes.Record, 0)
	exhausted := false

	next := func() (Record, Cursor, bool, error) {
		for len(pending) == 0 {
			if exhausted || shardIter == nil {
				return Record{}, Cursor{}, false, nil
			}
			var out *kinesis.GetRecordsOutput
			getErr := retry.Do(ctx, k.retryBudget, retry.Transient, func() error {
				var err error
				out, err = k.cli.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: shardIter})
				return classifyKinesis(err, "logstream.Read")
			})
			if getErr != nil {
				return Record{}, Cursor{}, false, getErr
			}
			shardIter = out.NextShardIterator
			if len(out.Records) == 0 {
				// No new records: this is "finite at current tail" per
				// spec.md §4.3, so stop rather than spin.
				exhausted = true
				return Record{}, Cursor{}, false, nil
			}
			pending = out.Records
		}

		raw := pending[0]
		pending = pending[1:]

		rec, derr := decodeRecord(raw.Data)
		if derr != nil {
			return Record{}, Cursor{}, false, dberrors.New(dberrors.Corruption, "logstream.Read", derr)
		}
		cursor := Cursor{Shard: shard, Seqno: Seqno(awssdk.ToString(raw.SequenceNumber))}
		return rec, cursor, true, nil
	}

	return next, nil
}

func (k *KinesisClient) GetLatestSeqno(ctx context.Context, name string, shard Shard) (Seqno, error) {
	var seqno Seqno
	err := retry.Do(ctx, k.retryBudget, retry.Transient, func() error {
		out, err := k.cli.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
			StreamName:        awssdk.String(name),
			ShardId:           awssdk.String(string(shard)),
			ShardIteratorType: kinesistypes.ShardIteratorTypeLatest,
		})
		if err != nil {
			return classifyKinesis(err, "logstream.GetLatestSeqno")
		}
		recOut, err := k.cli.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: out.ShardIterator})
		if err != nil {
			return classifyKinesis(err, "logstream.GetLatestSeqno")
		}
		if len(recOut.Records) == 0 {
			seqno = SeqnoLatest
			return nil
		}
		seqno = Seqno(awssdk.ToString(recOut.Records[len(recOut.Records)-1].SequenceNumber))
		return nil
	})
	return seqno, err
}

func classifyKinesis(err error, op string) error {
	if err == nil {
		return nil
	}

	var nf *kinesistypes.ResourceNotFoundException
	if errors.As(err, &nf) {
		return dberrors.New(dberrors.NotFound, op, err)
	}
	var expired *kinesistypes.ExpiredIteratorException
	if errors.As(err, &expired) {
		return dberrors.New(dberrors.Transient, op, err)
	}
	var throttled *kinesistypes.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		return dberrors.New(dberrors.Transient, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InternalFailure", "ServiceUnavailable", "LimitExceededException":
			return dberrors.New(dberrors.Transient, op, err)
		}
		return dberrors.New(dberrors.Permanent, op, err)
	}

	return dberrors.New(dberrors.Transient, op, err)
}
