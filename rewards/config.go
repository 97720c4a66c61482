package rewards

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

const maxStorageCapGB = 1_000_000_000_000

var ErrInvalidConfig = errors.New("invalid rewards config")

func DefaultConfig() Config {
	return Config{
		UptimeBucketBps:      6000,
		StorageBucketBps:     3000,
		RelayBucketBps:       1000,
		UptimeGateBps:        5000,
		StorageGateBps:       5000,
		RelayGateBps:         5000,
		StorageCapGB:         1000,
		SoftCapMultiplierBps: 30_000,
	}
}

//nolint:lll
type Config struct {
	UptimeBucketBps  uint64 `long:"uptime-bucket-bps"  description:"Share of the pool paid for uptime, in basis points"`
	StorageBucketBps uint64 `long:"storage-bucket-bps" description:"Share of the pool paid for storage, in basis points"`
	RelayBucketBps   uint64 `long:"relay-bucket-bps"   description:"Share of the pool paid for relaying, in basis points (receives the rounding remainder)"`

	UptimeGateBps  uint64 `long:"uptime-gate-bps"  description:"Uptime score below which a node earns nothing from the uptime bucket"`
	StorageGateBps uint64 `long:"storage-gate-bps" description:"Storage score below which a node earns nothing from the storage bucket"`
	RelayGateBps   uint64 `long:"relay-gate-bps"   description:"Relay score below which a node earns nothing from the relay bucket"`

	StorageCapGB         uint64 `long:"storage-cap-gb"          description:"Storage above this amount earns no additional weight"`
	SoftCapMultiplierBps uint64 `long:"soft-cap-multiplier-bps" description:"Per-node reward cap as a multiple of the median reward, in basis points"`
}

// Validate reports every problem of the config at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.UptimeBucketBps+c.StorageBucketBps+c.RelayBucketBps != BpsDenominator {
		result = multierror.Append(result, fmt.Errorf("%w: bucket shares must add up to %d bps", ErrInvalidConfig, BpsDenominator))
	}
	gates := []struct {
		name string
		bps  uint64
	}{{"uptime", c.UptimeGateBps}, {"storage", c.StorageGateBps}, {"relay", c.RelayGateBps}}
	for _, gate := range gates {
		if gate.bps > BpsDenominator {
			result = multierror.Append(result, fmt.Errorf("%w: %s gate above %d bps", ErrInvalidConfig, gate.name, BpsDenominator))
		}
	}
	if c.StorageCapGB == 0 || c.StorageCapGB > maxStorageCapGB {
		result = multierror.Append(result, fmt.Errorf("%w: storage cap must be in (0, %d] GB", ErrInvalidConfig, maxStorageCapGB))
	}
	if c.SoftCapMultiplierBps < BpsDenominator {
		result = multierror.Append(result, fmt.Errorf("%w: soft cap multiplier below 1x", ErrInvalidConfig))
	}
	return result.ErrorOrNil()
}
