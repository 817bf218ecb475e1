package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/danr/processor/internal/anr"
	"github.com/danr/processor/internal/device"
	"github.com/danr/processor/internal/httputil"
	"github.com/danr/processor/internal/logutil"
	"github.com/danr/processor/internal/metrics"
	"github.com/danr/processor/internal/session"
)

type environment struct {
	config ServiceConfig

	bucket   *blob.Bucket
	sessions *session.Store

	grouper   *anr.Grouper
	anrWriter anr.KafkaWriter

	devices device.Registry

	registry *prometheus.Registry
	metrics  *metrics.Service

	clock func() time.Time
}

var release string

func newEnvironment(ctx context.Context, cfg ServiceConfig) (*environment, error) {
	e := environment{
		config:   cfg,
		devices:  device.NewMemoryRegistry(),
		registry: prometheus.NewRegistry(),
	}
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.metrics = metrics.New(e.registry)

	var err error
	e.bucket, err = blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	e.sessions = session.NewStore(e.bucket)

	var opts []anr.Option
	if len(cfg.KafkaBrokers) > 0 {
		e.anrWriter = &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Async:        true,
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}
		opts = append(opts, anr.WithNotifier(anr.KafkaNotifier{
			Topic:  cfg.ANRGroupsKafkaTopic,
			Writer: e.anrWriter,
		}))
	}
	e.grouper = anr.NewGrouper(anr.NewMemoryRepository(), opts...)
	return &e, nil
}

func (e *environment) shutdown() {
	if e.anrWriter != nil {
		if err := e.anrWriter.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	if err := e.bucket.Close(); err != nil {
		sentry.CaptureException(err)
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/api/anrs", e.getANRs},
		{http.MethodPost, "/api/anrs", e.postANR},
		{http.MethodGet, "/api/anrs/:anr_id", e.getANR},
		{http.MethodDelete, "/api/anrs/:anr_id", e.deleteANR},
		{http.MethodGet, "/api/anr-groups", e.getANRGroups},
		{http.MethodGet, "/api/anr-groups/:group_id/anrs", e.getANRGroupMembers},
		{http.MethodGet, "/api/profiling/sessions", e.getSessions},
		{http.MethodPost, "/api/profiling/sessions", e.postSession},
		{http.MethodGet, "/api/profiling/sessions/:session_id", e.getSession},
		{http.MethodDelete, "/api/profiling/sessions/:session_id", e.deleteSession},
		{http.MethodGet, "/api/profiling/sessions/:session_id/flamegraph", e.getFlamegraph},
		{http.MethodGet, "/api/profiling/sessions/:session_id/top-functions", e.getTopFunctions},
		{http.MethodGet, "/api/profiling/sessions/:session_id/thread-summary", e.getThreadSummary},
		{http.MethodGet, "/api/profiling/sessions/:session_id/perfetto", e.getPerfetto},
		{http.MethodGet, "/api/profiling/sessions/:session_id/raw-trace", e.getRawTrace},
		{http.MethodGet, "/api/devices", e.getDevices},
		{http.MethodPost, "/api/devices", e.postDevice},
		{http.MethodDelete, "/api/devices/:device_id", e.deleteDevice},
		{http.MethodPost, "/api/devices/:device_id/commands", e.postDeviceCommand},
		{http.MethodGet, "/health", e.getHealth},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.NameTransaction(route.method, route.path, route.handler)
		handlerFunc = httputil.DecompressPayload(handlerFunc, e.config.MaxUploadBytes)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}))

	return router, nil
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading configuration")
	}

	logutil.ConfigureLogger(cfg.LogLevel)

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := newEnvironment(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	var g run.Group
	g.Add(func() error {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, func(error) {
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}
	})

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitor := device.Janitor{
		Interval: cfg.DeviceTTL / 2,
		OnExpire: func(expired []device.Device) {
			for _, d := range expired {
				log.Info().Str("device_id", d.ID).Msg("device expired")
			}
			env.metrics.DevicesExpired(len(expired))
			env.metrics.DevicesRegistered(len(env.devices.List()))
		},
		Registry: env.devices,
		TTL:      cfg.DeviceTTL,
	}
	g.Add(func() error {
		return janitor.Run(janitorCtx)
	}, func(error) {
		stopJanitor()
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		var signalErr run.SignalError
		if !errors.As(err, &signalErr) {
			sentry.CaptureException(err)
			log.Err(err).Msg("server failed")
		}
	}

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
