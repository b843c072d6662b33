package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/internal"
	"github.com/Monkeyattack/fxtrueup-sub003/internal/repository"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/metricbundle"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "run":
		runRelay(os.Args[2:])
	case "reconcile":
		runReconcile(os.Args[2:])
	case "orphans":
		runOrphans(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "comando desconocido: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `relay-cli - motor de copiado de trades fuente → destino

Uso:
  relay-cli run       --config relay.json
  relay-cli reconcile --config relay.json
  relay-cli orphans   --config relay.json
  relay-cli status    --config relay.json

Comandos:
  run        Arranca el relay (SIGHUP recarga la configuración).
  reconcile  Corre un barrido de reconciliación y termina.
  orphans    Lista las posiciones huérfanas pendientes de revisión.
  status     Publica y muestra el status feed de las rutas.
`
	fmt.Fprintln(os.Stderr, usage)
}

// runtime agrupa las dependencias compartidas por todos los comandos.
type runtime struct {
	cfg     *internal.Config
	client  broker.Client
	factory domain.RepositoryFactory
	tel     *telemetry.Client
	metrics *metricbundle.RelayMetrics
}

func setup(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error cargando configuración: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.ServiceName, cfg.Environment,
		telemetry.WithVersion(cfg.ServiceVersion),
		telemetry.WithOTLPEndpoint(cfg.OTLPEndpoint),
		telemetry.WithMetricsEndpoint(cfg.MetricsEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("error inicializando telemetría: %w", err)
	}

	metrics, err := metricbundle.NewRelayMetrics(tel.Meter())
	if err != nil {
		return nil, fmt.Errorf("error creando métricas: %w", err)
	}

	factory, err := newFactory(cfg)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		client:  broker.NewHTTPClient(cfg.PoolBaseURL, cfg.PoolToken),
		factory: factory,
		tel:     tel,
		metrics: metrics,
	}, nil
}

func newFactory(cfg *internal.Config) (domain.RepositoryFactory, error) {
	switch cfg.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("error abriendo PostgreSQL: %w", err)
		}
		return repository.NewPostgresFactory(db), nil
	default:
		factory, err := repository.NewBoltFactory(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("error abriendo el state store: %w", err)
		}
		return factory, nil
	}
}

func (r *runtime) shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error cerrando telemetría: %v\n", err)
	}
}

func runRelay(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "relay.json", "Ruta al documento de configuración")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		ctx := context.Background()
		rt, err := setup(ctx, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		log, err := internal.NewEventLog(rt.cfg.EventLogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error abriendo el event log: %v\n", err)
			os.Exit(1)
		}

		coordinator, err := internal.NewCoordinator(ctx, rt.cfg, rt.client, rt.factory, log, rt.tel, rt.metrics)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inicializando coordinador: %v\n", err)
			os.Exit(1)
		}

		coordinator.Start(ctx)

		sig := <-signals
		if err := coordinator.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error en shutdown: %v\n", err)
		}
		rt.shutdownTelemetry()

		if sig == syscall.SIGHUP {
			fmt.Fprintln(os.Stderr, "recargando configuración")
			continue
		}
		return
	}
}

func runReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", "relay.json", "Ruta al documento de configuración")
	timeout := fs.Duration("timeout", 5*time.Minute, "Timeout del barrido completo")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer rt.factory.Close()
	defer rt.shutdownTelemetry()

	log, err := internal.NewEventLog(rt.cfg.EventLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error abriendo el event log: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	stats := internal.NewStatsService(rt.factory.StatsRepository())
	reconciler := internal.NewReconciler(
		rt.cfg,
		rt.client,
		rt.factory.MappingRepository(),
		rt.factory.OrphanRepository(),
		stats,
		log,
		map[string]*internal.SourceState{},
		map[string]*internal.DestWorker{},
		rt.tel,
		rt.metrics,
	)
	reconciler.RunOnce(ctx)
	fmt.Println("barrido de reconciliación completado")
}

func runOrphans(args []string) {
	fs := flag.NewFlagSet("orphans", flag.ExitOnError)
	configPath := fs.String("config", "relay.json", "Ruta al documento de configuración")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer rt.factory.Close()
	defer rt.shutdownTelemetry()

	orphans, err := rt.factory.OrphanRepository().List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listando huérfanos: %v\n", err)
		os.Exit(1)
	}

	if len(orphans) == 0 {
		fmt.Println("sin posiciones huérfanas pendientes")
		return
	}
	for _, orphan := range orphans {
		fmt.Printf("%s  ruta=%s destino=%s posición=%s símbolo=%s motivo=%q\n",
			orphan.DetectedAt.Format(time.RFC3339),
			orphan.RouteID,
			orphan.DestAccountID,
			orphan.DestPositionID,
			orphan.Symbol,
			orphan.Reason,
		)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "relay.json", "Ruta al documento de configuración")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer rt.factory.Close()
	defer rt.shutdownTelemetry()

	stats := internal.NewStatsService(rt.factory.StatsRepository())
	writer := internal.NewStatusWriter(rt.cfg, stats, map[string]*internal.SourceState{}, rt.tel)
	if err := writer.WriteOnce(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error publicando status: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(rt.cfg.StatusPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error leyendo status: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}
