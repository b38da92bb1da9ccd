package report

import (
	"context"
	"fmt"
	"time"

	"github.com/gocrud/weavedi/core"
	"github.com/gocrud/weavedi/cron"
	"github.com/gocrud/weavedi/di"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

// JobName 报告任务在调度器中的名称
const JobName = "usage-report"

// Option 配置报告
type Option func(*options)

type sinkBinding func(ctx context.Context, rt *core.Runtime) (Sink, error)

type options struct {
	bindings    []sinkBinding
	flushOnStop bool
}

// WithSink 添加一个现成的 Sink
func WithSink(s Sink) Option {
	return func(o *options) {
		o.bindings = append(o.bindings, func(context.Context, *core.Runtime) (Sink, error) { return s, nil })
	}
}

// WithLogSink 写入运行时日志，top 为输出的条目数（0 表示全部）
func WithLogSink(top int) Option {
	return func(o *options) {
		o.bindings = append(o.bindings, func(_ context.Context, rt *core.Runtime) (Sink, error) {
			return &LogSink{Logger: rt.Logger.WithCategory("report"), Top: top}, nil
		})
	}
}

// WithRedisSink 写入名为 client 的 *redis.Client（见 redis.New）
func WithRedisSink(client, prefix string, ttl time.Duration) Option {
	return func(o *options) {
		o.bindings = append(o.bindings, func(ctx context.Context, rt *core.Runtime) (Sink, error) {
			c, err := di.Require[*redis.Client](ctx, rt.Registry, di.WithName(client))
			if err != nil {
				return nil, err
			}
			return &RedisSink{Client: c, Prefix: prefix, TTL: ttl}, nil
		})
	}
}

// WithSQLSink 写入名为 name 的 *gorm.DB（见 database.New）
func WithSQLSink(name string) Option {
	return func(o *options) {
		o.bindings = append(o.bindings, func(ctx context.Context, rt *core.Runtime) (Sink, error) {
			db, err := di.Require[*gorm.DB](ctx, rt.Registry, di.WithName(name))
			if err != nil {
				return nil, err
			}
			return NewSQLSink(db)
		})
	}
}

// WithMongoSink 写入名为 client 的 *mongo.Database 中的 collection（见 mongodb.New）
func WithMongoSink(client, collection string) Option {
	return func(o *options) {
		o.bindings = append(o.bindings, func(ctx context.Context, rt *core.Runtime) (Sink, error) {
			db, err := di.Require[*mongo.Database](ctx, rt.Registry, di.WithName(client))
			if err != nil {
				return nil, err
			}
			return &MongoSink{Collection: db.Collection(collection)}, nil
		})
	}
}

// WithFlushOnStop 停止时再生成一份报告
func WithFlushOnStop() Option {
	return func(o *options) {
		o.flushOnStop = true
	}
}

// New 按 cron 表达式 spec 周期性生成使用报告
//
// 需要先启用 cron.New。Sink 依赖的客户端在启动时从注册表解析，
// 因此 redis.New、database.New 等可以出现在 report.New 之后。
func New(spec string, opts ...Option) core.Option {
	return func(rt *core.Runtime) error {
		scheduler, ok := core.GetFeature[*cron.Scheduler](rt)
		if !ok {
			return fmt.Errorf("report: 需要先使用 cron.New")
		}
		o := &options{}
		for _, opt := range opts {
			opt(o)
		}

		reporter := NewReporter(runtimeSource{rt}, rt.Logger)
		di.RegisterValue(rt, reporter)
		rt.Features.Set(reporter)

		rt.Lifecycle.OnStart(func(ctx context.Context) error {
			for _, bind := range o.bindings {
				sink, err := bind(ctx, rt)
				if err != nil {
					return fmt.Errorf("report: %w", err)
				}
				reporter.AddSink(sink)
			}
			return nil
		})
		if o.flushOnStop {
			rt.Lifecycle.OnStop(reporter.Flush)
		}

		return scheduler.AddJob(spec, JobName, reporter.Flush)
	}
}

// runtimeSource 总是读取运行时当前的注册表
type runtimeSource struct {
	rt *core.Runtime
}

func (s runtimeSource) Summary() di.Summary            { return s.rt.Registry.Summary() }
func (s runtimeSource) UsageRecords() []di.UsageRecord { return s.rt.Registry.UsageRecords() }
