package observe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/docrdb/conn"
	"github.com/hatlonely/docrdb/log"
	"github.com/hatlonely/docrdb/log/logger"
)

type Options struct {
	// Name 组件名称标识，用于所有观测维度
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 span 的 component 属性
	Name string `cfg:"name" def:"docrdb"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"true"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// SlowThreshold 超过该耗时的语句以 warn 级别记录，0 表示不区分
	SlowThreshold time.Duration `cfg:"slowThreshold" def:"200ms"`

	Logger     logger.Logger         `cfg:"-"`
	Registerer prometheus.Registerer `cfg:"-"`
}

// Metrics 封装 prometheus 指标
type Metrics struct {
	statementCounter  *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	activeStatements  *prometheus.GaugeVec
	rowsHistogram     *prometheus.HistogramVec
	activeConnections prometheus.Gauge
}

// NewMetrics 创建指标收集器，同名指标已注册时复用已有的收集器
func NewMetrics(name string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		statementCounter: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_statements_total",
				Help: "Total number of executed statements",
			},
			[]string{"operation", "status"},
		)),
		statementDuration: register(registerer, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_statement_duration_seconds",
				Help:    "Duration of statements in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		)),
		activeStatements: register(registerer, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_statements",
				Help: "Number of running statements",
			},
			[]string{"operation"},
		)),
		rowsHistogram: register(registerer, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_statement_rows",
				Help:    "Rows returned or affected by statements",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation"},
		)),
		activeConnections: register(registerer, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: name + "_active_connections",
				Help: "Number of acquired connections",
			},
		)),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, c T) T {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Driver 装饰器，为连接上执行的每条语句添加指标、追踪和日志
type Driver struct {
	driver conn.Driver

	logger        logger.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	name          string
	slowThreshold time.Duration
}

func NewDriverWithOptions(driver conn.Driver, options *Options) (*Driver, error) {
	if driver == nil {
		return nil, errors.New("driver is nil")
	}
	if options == nil {
		return nil, errors.New("options is nil")
	}

	d := &Driver{
		driver:        driver,
		name:          options.Name,
		slowThreshold: options.SlowThreshold,
	}
	if options.EnableLogging {
		l := options.Logger
		if l == nil {
			l = log.Default()
		}
		d.logger = l.WithGroup("sql")
	}
	if options.EnableMetrics {
		d.metrics = NewMetrics(options.Name, options.Registerer)
	}
	if options.EnableTracing {
		d.tracer = otel.Tracer(fmt.Sprintf("docrdb.%s", options.Name))
	}
	return d, nil
}

func (d *Driver) Name() string {
	return d.driver.Name()
}

func (d *Driver) Acquire(ctx context.Context) (conn.Conn, error) {
	c, err := d.driver.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.activeConnections.Inc()
	}
	return &observedConn{conn: c, driver: d}, nil
}

func (d *Driver) Release(c conn.Conn) error {
	oc, ok := c.(*observedConn)
	if !ok {
		return d.driver.Release(c)
	}
	if d.metrics != nil {
		d.metrics.activeConnections.Dec()
	}
	return d.driver.Release(oc.conn)
}

func (d *Driver) Init(ctx context.Context) error {
	return d.driver.Init(ctx)
}

func (d *Driver) Close() error {
	return d.driver.Close()
}

type observedConn struct {
	conn   conn.Conn
	driver *Driver
}

func (c *observedConn) Execute(ctx context.Context, sql string) (*conn.Result, error) {
	var res *conn.Result
	err := c.driver.observe(ctx, sql, func(ctx context.Context) (int64, error) {
		var err error
		res, err = c.conn.Execute(ctx, sql)
		if err != nil {
			return 0, err
		}
		return res.Count, nil
	})
	return res, err
}

// Operation 语句的操作类型，取第一个关键字
func Operation(sql string) string {
	s := strings.TrimLeft(sql, " \t\r\n(")
	if i := strings.IndexAny(s, " \t\r\n("); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s)
}

func (d *Driver) observe(ctx context.Context, sql string, fn func(context.Context) (int64, error)) error {
	operation := Operation(sql)
	start := time.Now()

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "sql."+operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("component", d.name),
				attribute.String("db.system", d.driver.Name()),
				attribute.String("db.operation", operation),
				attribute.String("db.statement", sql),
			),
		)
		defer span.End()
	}

	if d.metrics != nil {
		d.metrics.activeStatements.WithLabelValues(operation).Inc()
		defer d.metrics.activeStatements.WithLabelValues(operation).Dec()
	}

	rows, err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("db.rows", rows), attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if d.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		d.metrics.statementCounter.WithLabelValues(operation, status).Inc()
		d.metrics.statementDuration.WithLabelValues(operation).Observe(duration.Seconds())
		if err == nil {
			d.metrics.rowsHistogram.WithLabelValues(operation).Observe(float64(rows))
		}
	}

	if d.logger != nil {
		args := []any{
			"component", d.name,
			"operation", operation,
			"statement", sql,
			"rows", rows,
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case err != nil:
			d.logger.ErrorContext(ctx, "statement failed", append(args, "error", err.Error())...)
		case d.slowThreshold > 0 && duration >= d.slowThreshold:
			d.logger.WarnContext(ctx, "slow statement", args...)
		default:
			d.logger.DebugContext(ctx, "statement executed", args...)
		}
	}

	return err
}
