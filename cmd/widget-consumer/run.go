package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"

	"github.com/Batos41/cloud-computing-hw/config"
	"github.com/Batos41/cloud-computing-hw/consumer"
	"github.com/Batos41/cloud-computing-hw/encoder"
	"github.com/Batos41/cloud-computing-hw/quarantine"
	"github.com/Batos41/cloud-computing-hw/sink"
	"github.com/Batos41/cloud-computing-hw/source"
	"github.com/Batos41/cloud-computing-hw/transformer"
)

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Local stacks rarely support virtual-hosted bucket addressing.
		o.UsePathStyle = cfg.Endpoint != ""
	})

	src := source.NewS3SourceWithConfig(s3Client, cfg.RequestBucket, source.S3SourceConfig{
		Prefix:       cfg.RequestPrefix,
		PageSize:     source.DefaultS3SourceConfig.PageSize,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	dst, err := newSink(cfg.Destination, awsCfg, s3Client)
	if err != nil {
		return err
	}

	opts := consumer.DefaultOptions
	opts.Workers = cfg.Workers
	opts.IdleTimeout = cfg.IdleTimeout
	opts.PollInterval = cfg.PollInterval
	opts.MaxDeferrals = cfg.MaxDeferrals
	opts.Logger = log
	switch q := cfg.Quarantine; {
	case q.Bucket != "":
		opts.Quarantine = quarantine.NewS3Quarantine(s3Client, q.Bucket, q.Prefix)
	case q.QueueURL != "":
		opts.Quarantine = quarantine.NewSQSQuarantine(sqs.NewFromConfig(awsCfg), q.QueueURL)
	}

	c, err := consumer.New(src, transformer.WidgetTransformer{}, dst, opts)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"request_bucket": cfg.RequestBucket,
		"destination":    cfg.Destination.Kind,
		"quarantine":     cfg.Quarantine.Enabled(),
	}).Info("starting widget consumer")

	return c.Run(ctx)
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func newSink(d config.Destination, awsCfg aws.Config, s3Client *s3.Client) (sink.Sinkr, error) {
	switch d.Kind {
	case config.KindDynamo:
		return sink.NewDynamoSink(dynamodb.NewFromConfig(awsCfg), d.Table), nil
	case config.KindS3:
		enc, err := encoder.ForFormat(d.Format)
		if err != nil {
			return nil, err
		}
		keyFunc, err := sink.KeyFuncFor(d.KeyLayout)
		if err != nil {
			return nil, err
		}
		return sink.NewS3Sink(s3Client, d.Bucket, sink.S3SinkConfig{
			Prefix:  d.Prefix,
			KeyFunc: keyFunc,
			Encoder: enc,
			// JSON keeps bare widget keys; binary formats get an extension.
			AppendExtension: d.Format != "" && d.Format != encoder.FormatJSON,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported destination: %q", d.Kind)
	}
}
