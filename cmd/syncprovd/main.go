// Command syncprovd runs the synchronization provider over an in-memory
// entry store, for local exploration against a real listener rather than
// httptest.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	webapp "github.com/dirsync/syncprov"
	"github.com/dirsync/syncprov/config"
	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore/memory"
	"github.com/dirsync/syncprov/httpapi"
	"github.com/dirsync/syncprov/live"
	"github.com/dirsync/syncprov/provider"
)

// setupTracer installs a global TracerProvider that writes spans to stdout,
// for local exploration; a real deployment would point stdouttrace's
// exporter elsewhere or swap in a collector-backed one. Returns the
// provider's shutdown func for a clean flush on exit.
func setupTracer(service string) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", service),
	))
	if err != nil {
		return nil, err
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	replicaID := flag.Uint("replica-id", 1, "CSN replica identifier")
	checkpointLine := flag.String("checkpoint", "checkpoint 100 5", "checkpoint <ops> <minutes>")
	database := flag.String("database", "default", "database name this provider instance serves")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := setupTracer("syncprovd")
	if err != nil {
		log.Error("tracer setup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()
	tracer := provider.NewTracer("github.com/dirsync/syncprov/cmd/syncprovd")

	store := memory.New()
	generator := csn.NewGenerator(uint16(*replicaID))

	cp, err := config.ParseCheckpoint(*checkpointLine)
	if err != nil {
		log.Error("invalid checkpoint directive", "error", err)
		os.Exit(1)
	}

	dbCtx := provider.NewContext(store, generator,
		provider.WithLogger(log),
		provider.WithCheckpointer(provider.NewCheckpointer(*database, cp.Ops, cp.Interval,
			provider.CheckpointSinkFunc(func(_ string, current csn.CSN) error {
				log.Info("checkpoint", "database", *database, "contextCSN", string(current))
				return nil
			}))),
	)

	// Registry holds one Context per olcDatabase-equivalent; this binary
	// only ever serves *database, but resolving it back out of the registry
	// (rather than keeping dbCtx around directly) is what a multi-database
	// deployment does for every database it serves.
	registry := provider.NewRegistry()
	registry.Put(*database, dbCtx)
	defer registry.Remove(*database)

	ctx, ok := registry.Get(*database)
	if !ok {
		log.Error("database not found in registry", "database", *database)
		os.Exit(1)
	}

	codec := csn.NewCodec()
	coordinator := provider.NewCoordinator(ctx, codec).WithTracer(tracer)
	interceptor := provider.NewInterceptor(ctx, codec).WithTracer(tracer)

	handlers := httpapi.NewHandlers(coordinator, interceptor, codec, live.Options{
		QueueSize: 128,
		Origins:   []string{"*"},
	})
	handlers.Registry = registry

	app := webapp.New(webapp.WithLogger(log), webapp.WithShutdownTimeout(15*time.Second))
	handlers.Mount(app.Router)
	app.Get("/healthz", func(c *webapp.Ctx) error {
		app.HealthzHandler().ServeHTTP(c.Writer(), c.Request())
		return nil
	})

	log.Info("syncprovd listening", "addr", *addr, "database", *database)
	if err := app.Listen(*addr); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
