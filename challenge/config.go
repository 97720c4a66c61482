package challenge

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/pose/shared"
)

func DefaultConfig() Config {
	return Config{
		UptimeMaxPerEpoch:  12,
		UptimeMinInterval:  time.Second,
		StorageMaxPerEpoch: 4,
		StorageMinInterval: 5 * time.Second,
		RelayMaxPerEpoch:   8,
		RelayMinInterval:   time.Second,

		UptimeDeadline:  2500 * time.Millisecond,
		StorageDeadline: 6000 * time.Millisecond,
		RelayDeadline:   2500 * time.Millisecond,

		QuotaLogTTL:        24 * time.Hour,
		QuotaLogMaxEntries: 100_000,
	}
}

//nolint:lll
type Config struct {
	UptimeMaxPerEpoch  int           `long:"uptime-max-per-epoch"  description:"Maximum uptime challenges per node per epoch"`
	UptimeMinInterval  time.Duration `long:"uptime-min-interval"   description:"Minimum time between two uptime challenges to the same node"`
	StorageMaxPerEpoch int           `long:"storage-max-per-epoch" description:"Maximum storage challenges per node per epoch"`
	StorageMinInterval time.Duration `long:"storage-min-interval"  description:"Minimum time between two storage challenges to the same node"`
	RelayMaxPerEpoch   int           `long:"relay-max-per-epoch"   description:"Maximum relay challenges per node per epoch"`
	RelayMinInterval   time.Duration `long:"relay-min-interval"    description:"Minimum time between two relay challenges to the same node"`

	UptimeDeadline  time.Duration `long:"uptime-deadline"  description:"Response deadline of uptime challenges"`
	StorageDeadline time.Duration `long:"storage-deadline" description:"Response deadline of storage challenges"`
	RelayDeadline   time.Duration `long:"relay-deadline"   description:"Response deadline of relay challenges"`

	QuotaLog           string        `long:"quota-log"             description:"Path of the persisted quota log (empty keeps quotas in memory)"`
	QuotaLogTTL        time.Duration `long:"quota-log-ttl"         description:"Quota log entries older than this are dropped on load"`
	QuotaLogMaxEntries int           `long:"quota-log-max-entries" description:"Maximum number of entries kept in the quota log"`
}

// Limit is the issuance policy of one challenge type.
type Limit struct {
	MaxPerEpoch   int
	MinIntervalMs uint64
}

func (c Config) Limit(t shared.ChallengeType) Limit {
	switch t {
	case shared.Uptime:
		return Limit{c.UptimeMaxPerEpoch, uint64(c.UptimeMinInterval.Milliseconds())}
	case shared.Storage:
		return Limit{c.StorageMaxPerEpoch, uint64(c.StorageMinInterval.Milliseconds())}
	case shared.Relay:
		return Limit{c.RelayMaxPerEpoch, uint64(c.RelayMinInterval.Milliseconds())}
	}
	return Limit{}
}

// Deadline returns how long a node has to answer a challenge of type t.
func (c Config) Deadline(t shared.ChallengeType) time.Duration {
	switch t {
	case shared.Storage:
		return c.StorageDeadline
	case shared.Relay:
		return c.RelayDeadline
	default:
		return c.UptimeDeadline
	}
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, t := range shared.ChallengeTypes {
		l := c.Limit(t)
		enc.AddInt(t.String()+"-max-per-epoch", l.MaxPerEpoch)
		enc.AddUint64(t.String()+"-min-interval-ms", l.MinIntervalMs)
		enc.AddDuration(t.String()+"-deadline", c.Deadline(t))
	}
	enc.AddString("quota-log", c.QuotaLog)
	return nil
}
