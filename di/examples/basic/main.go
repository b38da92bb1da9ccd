package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocrud/weavedi/di"
)

// 定义接口
type Logger interface {
	Log(msg string)
}

type Database interface {
	Connect() error
}

// 实现
type ConsoleLogger struct {
	Prefix string
}

func (c *ConsoleLogger) Log(msg string) {
	println(c.Prefix + ": " + msg)
}

type MySQLDatabase struct {
	Host string
	Port int
}

func (m *MySQLDatabase) Connect() error {
	println("Connecting to MySQL at", m.Host, ":", m.Port)
	return nil
}

// 服务
type UserService struct {
	Logger Logger   `di:""`
	DB     Database `di:""`
	Audit  Logger   `di:"audit,optional"`
}

// RequestContext 每个请求一个
type RequestContext struct {
	ID string
}

var DSN = di.NewToken[string]("dsn")

func NewDatabase(dsn string) Database {
	return &MySQLDatabase{Host: dsn, Port: 3306}
}

func main() {
	ctx := context.Background()
	reg := di.New(di.WithSettings(di.Settings{FrequentThreshold: 2}))
	defer reg.Close()

	err := reg.Bootstrap(func(b *di.Batch) error {
		di.RegisterValue[Logger](b, &ConsoleLogger{Prefix: "APP"})
		di.RegisterValue(b, "localhost", di.WithName(DSN.Name()))

		if _, err := di.Provide(b, func(ctx context.Context, r di.Resolver) (Database, error) {
			dsn, err := di.ResolveToken(ctx, r, DSN)
			if err != nil {
				return nil, err
			}
			return NewDatabase(dsn), nil
		}); err != nil {
			return err
		}
		if _, err := di.Provide(b, &UserService{}); err != nil {
			return err
		}

		di.Register(b, func(ctx context.Context, r di.Resolver) (*RequestContext, error) {
			return &RequestContext{ID: "req-1"}, nil
		}, di.WithRequest())
		return nil
	})
	if err != nil {
		panic(err)
	}

	if err := reg.Validate(); err != nil {
		panic(err)
	}

	svc := di.MustResolve[*UserService](ctx, reg)
	svc.Logger.Log("user service ready")
	_ = svc.DB.Connect()
	fmt.Println("audit logger injected:", svc.Audit != nil)

	// 请求作用域
	req := reg.NewRequest("")
	defer req.Dispose()
	rc := di.MustResolve[*RequestContext](ctx, req)
	fmt.Println("request:", rc.ID)

	// 没有作用域时解析请求级服务会失败
	if _, err := di.Require[*RequestContext](ctx, reg); errors.Is(err, di.ErrScopeRequired) {
		fmt.Println("request scope required:", err)
	}

	for i := 0; i < 3; i++ {
		_ = di.MustResolve[*UserService](ctx, reg)
	}
	fmt.Println("optimized:", reg.OptimizedTypes())
	fmt.Println("stats:", reg.Stats())
}
