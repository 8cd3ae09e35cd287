// internal/reconciliation/progress/build.go
package progress

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
)

// FromConfig assembles the sinks named in cfg.Sinks. rdb may be nil when no redis sink is configured.
func FromConfig(cfg config.ProgressConfig, rdb redis.Cmdable, log logger.Logger) (Multi, error) {
	var sinks Multi
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(log))
		case "redis":
			if rdb == nil {
				return nil, fmt.Errorf("redis progress sink requires a redis client")
			}
			sinks = append(sinks, NewRedisSink(rdb, cfg.Redis, cfg.Breaker, log))
		case "kafka":
			sinks = append(sinks, NewKafkaSink(cfg.Kafka, cfg.Breaker, log))
		default:
			return nil, fmt.Errorf("unknown progress sink %q", name)
		}
	}
	return sinks, nil
}

// SnapshotSource returns the first sink able to serve stored snapshots, if any.
func (m Multi) SnapshotSource() *RedisSink {
	for _, s := range m {
		if r, ok := s.(*RedisSink); ok {
			return r
		}
	}
	return nil
}
