// Package objectstore reads daily price files from an S3-compatible bucket.
//
// Each asset lives at {prefix}{SYMBOL}.csv with a header row naming a date column and
// a close column (adj_close preferred over close).
package objectstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ObjectGetter is the part of the S3 API the client needs
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds bucket location and optional static credentials
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // non-empty for MinIO and other S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	Workers         int
}

// Client serves price histories from CSV objects
type Client struct {
	api     ObjectGetter
	bucket  string
	prefix  string
	workers int
	now     func() time.Time
	log     zerolog.Logger
}

// NewClient builds an S3 client from the default AWS credential chain, overridden by
// static keys when both are configured.
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewClientWithAPI(api, cfg, log), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api ObjectGetter, cfg Config, log zerolog.Logger) *Client {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Client{
		api:     api,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		workers: workers,
		now:     time.Now,
		log:     log.With().Str("client", "objectstore").Str("bucket", cfg.Bucket).Logger(),
	}
}

// Name identifies the provider in errors and logs
func (c *Client) Name() string {
	return "s3"
}

// FetchPrices reads one object per asset and keeps rows inside the lookback window.
// Missing objects and empty windows are reported as missing assets.
func (c *Client) FetchPrices(ctx context.Context, assets []string, lookback domain.Lookback) (*domain.PriceHistory, error) {
	start, end := lookback.Window(c.now())
	start = truncateDay(start)
	end = truncateDay(end)

	series := make([]domain.PriceSeries, len(assets))
	missing := make([]string, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, asset := range assets {
		g.Go(func() error {
			s, reason, err := c.readSeries(gctx, asset, start, end)
			if err != nil {
				return fmt.Errorf("read %s: %w", c.key(asset), err)
			}
			series[i], missing[i] = s, reason
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history := domain.NewPriceHistory()
	for i, asset := range assets {
		if missing[i] != "" {
			history.MarkMissing(asset, missing[i])
			continue
		}
		history.Add(asset, series[i])
	}
	return history, nil
}

func (c *Client) key(asset string) string {
	return c.prefix + asset + ".csv"
}

func (c *Client) readSeries(ctx context.Context, asset string, start, end time.Time) (domain.PriceSeries, string, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(asset)),
	})
	if err != nil {
		if isNotFound(err) {
			c.log.Debug().Str("asset", asset).Msg("No price object")
			return nil, "unknown symbol", nil
		}
		return nil, "", err
	}
	defer out.Body.Close()

	all, err := parseCSV(out.Body)
	if err != nil {
		return nil, "", err
	}

	series := make(domain.PriceSeries, 0, len(all))
	for _, p := range all {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		series = append(series, p)
	}
	if len(series) == 0 {
		return nil, "no data in range", nil
	}
	return series.Sort(), "", nil
}

// isNotFound matches both the modeled NoSuchKey error and the bare 404 code some
// S3-compatible stores return.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
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

// parseCSV reads date/price rows. Rows with an unparseable or non-positive price are
// skipped; a malformed header or date is an error.
func parseCSV(r io.Reader) (domain.PriceSeries, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	dateCol, priceCol := -1, -1
	closeCol := -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "adj_close", "adjclose", "adj close":
			priceCol = i
		case "close":
			closeCol = i
		}
	}
	if priceCol < 0 {
		priceCol = closeCol
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("header must name date and close columns, got %v", header)
	}

	var series domain.PriceSeries
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q", line, record[dateCol])
		}

		price, err := strconv.ParseFloat(strings.TrimSpace(record[priceCol]), 64)
		if err != nil || !(price > 0) || math.IsInf(price, 0) {
			continue
		}

		series = append(series, domain.PricePoint{Date: date, Price: price})
	}

	return series, nil
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
