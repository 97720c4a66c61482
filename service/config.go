package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/challenge"
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/rewards"
)

var ErrInvalidConfig = errors.New("invalid service config")

func DefaultConfig() Config {
	return Config{
		Challenge: challenge.DefaultConfig(),
		Receipt: ReceiptConfig{
			NonceLogTTL:        24 * time.Hour,
			NonceLogMaxEntries: 1_000_000,
			IssuedCacheSize:    100_000,
		},
		Batch: BatchConfig{
			SampleSize: aggregation.DefaultSampleSize,
		},
		Rewards: rewards.DefaultConfig(),
		Penalty: dispute.DefaultPenaltyConfig(),
		Dispute: DisputeConfig{
			EventLogCapacity: dispute.DefaultEventLogCapacity,
			KeepEpochs:       4,
		},
	}
}

//nolint:lll
type ReceiptConfig struct {
	NonceLog           string        `long:"nonce-log"             description:"Path of the persisted nonce registry (empty keeps nonces in memory)"`
	NonceLogTTL        time.Duration `long:"nonce-log-ttl"         description:"Consumed nonces older than this are forgotten"`
	NonceLogMaxEntries int           `long:"nonce-log-max-entries" description:"Maximum number of nonces kept in the registry"`
	IssuedCacheSize    int           `long:"issued-cache-size"     description:"Number of issued challenges remembered for matching receipts"`
}

type BatchConfig struct {
	SampleSize int `long:"sample-size" description:"Number of leaves sampled into every batch"`
}

//nolint:lll
type DisputeConfig struct {
	EventLogCapacity int    `long:"event-log-capacity" description:"Number of dispute events kept in memory"`
	KeepEpochs       uint64 `long:"keep-epochs"        description:"Number of past epochs whose receipts and quotas are retained"`
}

type Config struct {
	Challenge challenge.Config      `group:"Challenge" namespace:"challenge"`
	Receipt   ReceiptConfig         `group:"Receipt"   namespace:"receipt"`
	Batch     BatchConfig           `group:"Batch"     namespace:"batch"`
	Rewards   rewards.Config        `group:"Rewards"   namespace:"rewards"`
	Penalty   dispute.PenaltyConfig `group:"Penalty"   namespace:"penalty"`
	Dispute   DisputeConfig         `group:"Dispute"   namespace:"dispute"`
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if err := c.Rewards.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Batch.SampleSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: sample size must be positive, got %d", ErrInvalidConfig, c.Batch.SampleSize))
	}
	if c.Receipt.IssuedCacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: issued cache size must be positive, got %d", ErrInvalidConfig, c.Receipt.IssuedCacheSize))
	}
	if c.Penalty.EjectThreshold != 0 && c.Penalty.EjectThreshold < c.Penalty.SuspendThreshold {
		result = multierror.Append(result, fmt.Errorf(
			"%w: eject threshold %d below suspend threshold %d",
			ErrInvalidConfig, c.Penalty.EjectThreshold, c.Penalty.SuspendThreshold,
		))
	}
	return result.ErrorOrNil()
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("challenge", c.Challenge); err != nil {
		return err
	}
	enc.AddString("nonce_log", c.Receipt.NonceLog)
	enc.AddDuration("nonce_log_ttl", c.Receipt.NonceLogTTL)
	enc.AddInt("nonce_log_max_entries", c.Receipt.NonceLogMaxEntries)
	enc.AddInt("issued_cache_size", c.Receipt.IssuedCacheSize)
	enc.AddInt("sample_size", c.Batch.SampleSize)
	enc.AddUint64("uptime_bucket_bps", c.Rewards.UptimeBucketBps)
	enc.AddUint64("storage_bucket_bps", c.Rewards.StorageBucketBps)
	enc.AddUint64("relay_bucket_bps", c.Rewards.RelayBucketBps)
	enc.AddUint64("soft_cap_multiplier_bps", c.Rewards.SoftCapMultiplierBps)
	enc.AddUint64("suspend_threshold", c.Penalty.SuspendThreshold)
	enc.AddUint64("eject_threshold", c.Penalty.EjectThreshold)
	enc.AddDuration("suspend_duration", c.Penalty.SuspendDuration)
	enc.AddInt("event_log_capacity", c.Dispute.EventLogCapacity)
	enc.AddUint64("keep_epochs", c.Dispute.KeepEpochs)
	return nil
}
