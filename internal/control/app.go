package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/vietddude/resilient/internal/consumer"
	"github.com/vietddude/resilient/internal/core/config"
	"github.com/vietddude/resilient/internal/core/worker"
	"github.com/vietddude/resilient/internal/health"
	"github.com/vietddude/resilient/internal/infra/amqp"
	"github.com/vietddude/resilient/internal/infra/rpc"
	"github.com/vietddude/resilient/internal/infra/storage"
	"github.com/vietddude/resilient/internal/infra/storage/postgres"
	"github.com/vietddude/resilient/internal/metrics"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/classify"
	"github.com/vietddude/resilient/internal/resilience/retry"
	"github.com/vietddude/resilient/internal/telemetry"
)

const tracerName = "github.com/vietddude/resilient"

// App is the main application struct that manages the consumer lifecycle.
type App struct {
	cfg          *config.AppConfig
	consumer     *consumer.Consumer
	supervisor   *consumer.Supervisor
	deadLetters  *DeadLetterStore
	healthServer *health.Server
	pruner       *worker.Pruner
	rpcClient    *rpc.HTTPClient
	grpcConn     *grpc.ClientConn
	shutdown     func(context.Context) error
	token        *cancel.Token
	log          *slog.Logger

	started  atomic.Bool
	done     chan struct{}
	outcome  consumer.Outcome
	stopOnce sync.Once
}

// Option customises an App.
type Option func(*options)

type options struct {
	handler consumer.Handler
	dialer  consumer.Dialer
	logger  *slog.Logger
}

// WithHandler sets the message handler. Without it messages are forwarded to
// the JSON-RPC endpoint when one is configured, and logged otherwise.
func WithHandler(h consumer.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithDialer replaces the AMQP dialer.
func WithDialer(d consumer.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:   cfg,
		token: cancel.New(),
		log:   o.logger,
		done:  make(chan struct{}),
	}
	ok := false
	defer func() {
		if !ok {
			a.release(context.WithoutCancel(ctx))
		}
	}()

	// 1. Tracing
	shutdown, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.shutdown = shutdown

	// 2. Dead-letter storage
	a.deadLetters, err = OpenDeadLetters(ctx, cfg, a.log)
	if err != nil {
		return nil, err
	}
	checks := a.deadLetters.Checks

	// 3. Outbound RPC
	if cfg.RPC.HTTPEndpoint != "" {
		a.rpcClient = rpc.NewHTTPClient(cfg.RPC.HTTPEndpoint, cfg.RPC.Timeout)
	}
	if cfg.RPC.GRPCEndpoint != "" {
		a.grpcConn, err = rpc.DialGRPC(cfg.RPC.GRPCEndpoint)
		if err != nil {
			return nil, err
		}
		conn, timeout := a.grpcConn, cfg.RPC.Timeout
		checks["grpc"] = health.CheckFunc(func(ctx context.Context) error {
			return rpc.CheckGRPCHealth(ctx, conn, "", timeout)
		})
	}

	// 4. Consumer
	handler := o.handler
	if handler == nil {
		handler = a.defaultHandler()
	}

	name := cfg.Consumer.Name
	if name == "" {
		name = "consumer"
	}
	sinks := consumer.MultiSink{consumer.NewLogSink(a.log), metrics.NewSink()}
	if a.deadLetters.Repo != nil {
		sinks = append(sinks, consumer.NewDeadLetterSink(a.deadLetters.Repo, a.log))
	}

	a.consumer, err = consumer.New(handler, consumer.Config{
		Name:             name,
		Policy:           cfg.Retry.Policy(),
		Classifier:       handlerClassifier,
		RequeueOnFailure: cfg.Consumer.RequeueOnFailure,
		Sink:             sinks,
		Middleware:       []consumer.Middleware{telemetry.Middleware(otel.Tracer(tracerName))},
		OnStateChange:    metrics.StateObserver(name),
		Logger:           a.log,
		RetryOptions:     []retry.Option{retry.WithNotify(metrics.RetryNotify(name, "handler"))},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	dialer := o.dialer
	if dialer == nil {
		if err := cfg.AMQP.Validate(); err != nil {
			return nil, err
		}
		dialer = amqp.NewDialer(cfg.AMQP)
	}
	a.supervisor, err = consumer.NewSupervisor(a.consumer, dialer, cfg.Reconnect.Policy(), amqp.Classifier(), a.log,
		retry.WithNotify(metrics.RetryNotify(name, "reconnect")),
	)
	if err != nil {
		return nil, err
	}

	if p, isPruner := a.deadLetters.Repo.(storage.FailedMessagePruner); isPruner && cfg.DeadLetter.Retention > 0 {
		a.pruner = worker.NewPruner(cfg.DeadLetter.Retention, p, a.log)
	}

	// 5. Health
	monitor := health.NewMonitor(a.consumer, a.deadLetters.Repo, checks, cfg.Server.HealthInterval)
	a.healthServer = health.NewServer(monitor, cfg.Server.Port)

	ok = true
	return a, nil
}

// handlerClassifier recognises the failures handlers typically surface:
// outbound RPC and database errors on top of the default rules.
var handlerClassifier = classify.New(classify.Transient,
	append([]classify.Rule{classify.MarkerRule, rpc.GRPCRule, rpc.JSONRPCRule, postgres.Rule}, classify.DefaultRules()...)...,
)

func (a *App) defaultHandler() consumer.Handler {
	if a.rpcClient != nil {
		return forwardHandler(a.rpcClient)
	}
	return func(ctx context.Context, msg *consumer.Message) error {
		a.log.InfoContext(ctx, "Received message",
			"message_id", msg.ID,
			"routing_key", msg.RoutingKey,
			"size", len(msg.Body),
		)
		return nil
	}
}

// forwardHandler calls the JSON-RPC method named by the routing key with the
// message body as params.
func forwardHandler(client *rpc.HTTPClient) consumer.Handler {
	return func(ctx context.Context, msg *consumer.Message) error {
		if !json.Valid(msg.Body) {
			return classify.MarkPermanent(fmt.Errorf("message %s: body is not valid JSON", msg.ID))
		}
		_, err := client.Call(ctx, msg.RoutingKey, json.RawMessage(msg.Body))
		return err
	}
}

// Start starts the health server and the supervised consumer. It does not
// block; Done is closed when the consumer stops for good.
func (a *App) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("app already started")
	}
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.pruner != nil {
		pruneCtx, stop := a.token.Context(ctx)
		go func() {
			defer stop()
			a.pruner.Start(pruneCtx)
		}()
	}

	a.log.Info("Starting consumer", "consumer", a.consumer.Name(), "queue", a.cfg.AMQP.Queue)
	go func() {
		defer close(a.done)
		a.outcome = a.supervisor.Run(ctx, a.token)
		a.log.Info("Consumer finished", "consumer", a.consumer.Name(), "outcome", a.outcome.String(),
			"processed", a.outcome.Processed)
	}()
	return nil
}

// Done is closed once the supervised consumer has stopped.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Outcome returns the consumer's final outcome. Valid after Done is closed.
func (a *App) Outcome() consumer.Outcome {
	<-a.done
	return a.outcome
}

// State returns the consumer's current lifecycle state.
func (a *App) State() consumer.State {
	return a.consumer.State()
}

// Stop requests a graceful shutdown, waits for the consumer to drain or ctx
// to expire, then releases every resource.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping app...")
	a.token.Trigger()

	var err error
	if a.started.Load() {
		select {
		case <-a.done:
		case <-ctx.Done():
			err = fmt.Errorf("consumer did not drain: %w", ctx.Err())
		}
	}

	// Stop Health Server
	if herr := a.healthServer.Stop(ctx); herr != nil {
		err = errors.Join(err, herr)
	}
	return errors.Join(err, a.release(ctx))
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.grpcConn != nil {
			errs = append(errs, a.grpcConn.Close())
		}
		if a.rpcClient != nil {
			errs = append(errs, a.rpcClient.Close())
		}
		if a.deadLetters != nil {
			errs = append(errs, a.deadLetters.Close())
		}
		if a.shutdown != nil {
			errs = append(errs, a.shutdown(ctx))
		}
	})
	return errors.Join(errs...)
}
