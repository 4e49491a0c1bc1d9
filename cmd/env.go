package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/blob"
	"github.com/sells-group/skiatlas/internal/cloud"
	"github.com/sells-group/skiatlas/internal/config"
	"github.com/sells-group/skiatlas/internal/db"
	"github.com/sells-group/skiatlas/internal/download"
	"github.com/sells-group/skiatlas/internal/geometry"
	"github.com/sells-group/skiatlas/internal/location"
	"github.com/sells-group/skiatlas/internal/monitoring"
	"github.com/sells-group/skiatlas/internal/pipeline"
	"github.com/sells-group/skiatlas/internal/queue"
	"github.com/sells-group/skiatlas/internal/spatial"
	"github.com/sells-group/skiatlas/internal/store"
	"github.com/sells-group/skiatlas/internal/worker"
	"github.com/sells-group/skiatlas/pkg/nominatim"
	"github.com/sells-group/skiatlas/pkg/overpass"
)

// appEnv holds every initialized collaborator needed by the commands.
type appEnv struct {
	Areas        store.AreaStore
	Queue        queue.Queue // nil unless requested
	Spawner      pipeline.Spawner
	Orchestrator *pipeline.Orchestrator
	Discoverer   *pipeline.Discoverer
	Ingester     *pipeline.Ingester
	Metrics      *monitoring.Metrics
	Registry     *prometheus.Registry

	awsCfg  *aws.Config
	closers []func()
}

// envOptions selects the optional parts of the environment.
type envOptions struct {
	Queue bool
	// Force overrides the direct-or-queued decision of Ingest.
	Force pipeline.Mode
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// initEnv builds the store, clients, orchestrator and, when asked, the work
// queue. Callers should defer env.Close().
func initEnv(ctx context.Context, opts envOptions) (*appEnv, error) {
	scopes := []string{"store", "blob"}
	if opts.Queue {
		scopes = append(scopes, "queue", "worker")
	}
	if err := cfg.Validate(scopes...); err != nil {
		return nil, err
	}

	env := &appEnv{Registry: prometheus.NewRegistry()}
	env.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	env.Metrics = monitoring.NewMetrics(env.Registry)
	extractor := geometry.NewExtractor(env.Metrics.ObserveFallback)

	areas, err := env.initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Areas = areas
	env.closers = append(env.closers, func() { _ = areas.Close() })

	if err := areas.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := env.initBlob(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	mapData := overpass.NewClient(
		overpass.WithBaseURL(cfg.Overpass.BaseURL),
		overpass.WithUserAgent(cfg.Overpass.UserAgent),
		overpass.WithRateLimit(cfg.Overpass.RateLimit),
	)

	geocoder, err := env.initGeocoder()
	if err != nil {
		env.Close()
		return nil, err
	}

	resolver := location.NewResolver(geocoder,
		location.WithDelay(time.Duration(cfg.Nominatim.DelayMillis)*time.Millisecond),
		location.WithObserver(env.Metrics.ObserveGeocode),
	)
	filter := spatial.NewFilter(cfg.Spatial.Enabled, spatial.WithObserver(env.Metrics.ObserveFilter))
	downloader := download.New(mapData, filter,
		download.WithExtractor(extractor),
		download.WithObserver(env.Metrics.ObserveDownload),
	)

	var estimateOpts []pipeline.Option
	if cfg.Pipeline.StageEstimateSecs > 0 {
		estimateOpts = append(estimateOpts, pipeline.WithStageEstimate(config.Seconds(cfg.Pipeline.StageEstimateSecs)))
	}
	env.Orchestrator = pipeline.NewOrchestrator(
		store.NewGateway(areas, blobs),
		resolver,
		downloader,
		append(estimateOpts,
			pipeline.WithExtractor(extractor),
			pipeline.WithStageObserver(env.Metrics.ObserveStage),
		)...,
	)

	if opts.Queue {
		q, err := env.initQueue(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Queue = q

		if m, ok := q.(migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				env.Close()
				return nil, eris.Wrap(err, "migrate queue")
			}
		}

		sp, err := env.initSpawner(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Spawner = sp
	}

	var enq pipeline.Enqueuer
	if env.Queue != nil {
		enq = env.Queue
	}
	env.Discoverer = pipeline.NewDiscoverer(mapData)
	env.Ingester = pipeline.NewIngester(
		env.Discoverer,
		env.Orchestrator,
		enq,
		env.Spawner,
		pipeline.IngestOptions{
			Plan: pipeline.PlanOptions{
				DirectThreshold: cfg.Pipeline.DirectThreshold,
				BatchSize:       cfg.Pipeline.BatchSize,
				Force:           opts.Force,
			},
			Budget: config.Seconds(cfg.Pipeline.BudgetSecs),
		},
	)

	return env, nil
}

// newWorker builds a queue worker over env's queue and orchestrator.
func (e *appEnv) newWorker(opts worker.Options) *worker.Worker {
	return worker.New(e.Queue, e.Orchestrator, e.Spawner, opts, worker.WithObserver(e.Metrics.ObserveWorker))
}

func workerOptions() worker.Options {
	return worker.Options{
		MaxMessages:       cfg.Worker.MaxMessages,
		MaxProcessingTime: config.Seconds(cfg.Worker.MaxProcessingSecs),
		SafetyMargin:      config.Seconds(cfg.Worker.SafetyMarginSecs),
		Lease:             config.Seconds(cfg.Worker.LeaseSecs),
		Budget:            config.Seconds(cfg.Worker.BudgetSecs),
		Enrich:            cfg.Worker.Enrich,
	}
}

func (e *appEnv) awsConfig(ctx context.Context) (aws.Config, error) {
	if e.awsCfg != nil {
		return *e.awsCfg, nil
	}
	c, err := cloud.Load(ctx, awsOptions())
	if err != nil {
		return aws.Config{}, err
	}
	e.awsCfg = &c
	return c, nil
}

func awsOptions() cloud.Options {
	return cloud.Options{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}
}

func (e *appEnv) initStore(ctx context.Context) (store.AreaStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "dynamodb":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := store.NewDynamoClient(awsCfg, awsOptions().BaseEndpoint())
		return store.NewDynamo(client, cfg.Store.DynamoTable), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func (e *appEnv) initBlob(ctx context.Context) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "local":
		return blob.NewLocalStore(cfg.Blob.Dir), nil
	case "s3":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := blob.NewS3Client(awsCfg, awsOptions().BaseEndpoint())
		return blob.NewS3Store(client, cfg.Blob.Bucket, cfg.Blob.Prefix), nil
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", cfg.Blob.Driver)
	}
}

func (e *appEnv) initGeocoder() (nominatim.Reverser, error) {
	if cfg.Nominatim.Disabled {
		zap.L().Info("reverse geocoding disabled, locations come from tags only")
		return nil, nil
	}

	var geocoder nominatim.Reverser = nominatim.NewClient(
		nominatim.WithBaseURL(cfg.Nominatim.BaseURL),
		nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
		nominatim.WithRateLimit(cfg.Nominatim.RateLimit),
	)
	if cfg.Geocache.RedisURL == "" {
		return geocoder, nil
	}

	opt, err := redis.ParseURL(cfg.Geocache.RedisURL)
	if err != nil {
		return nil, eris.Wrap(err, "parse geocache redis url")
	}
	rdb := redis.NewClient(opt)
	e.closers = append(e.closers, func() { _ = rdb.Close() })
	zap.L().Info("reverse geocode cache enabled", zap.String("addr", opt.Addr))

	ttl := time.Duration(cfg.Geocache.TTLHours) * time.Hour
	return nominatim.NewCachedClient(geocoder, rdb, ttl), nil
}

func (e *appEnv) initQueue(ctx context.Context) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return queue.NewMemory(), nil
	case "postgres":
		// Share the area store's pool when both live in the same database.
		if ps, ok := e.Areas.(*store.PostgresStore); ok {
			return queue.NewPostgres(ps.Pool()), nil
		}
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		return queue.NewPostgres(pool), nil
	case "sqs":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := queue.NewSQSClient(awsCfg, awsOptions().BaseEndpoint())
		return queue.NewSQS(client, cfg.Queue.SQSURL), nil
	default:
		return nil, eris.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

func (e *appEnv) initSpawner(ctx context.Context) (pipeline.Spawner, error) {
	switch cfg.Worker.Spawner {
	case "lambda":
		awsCfg, err := e.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := worker.NewLambdaClient(awsCfg, awsOptions().BaseEndpoint())
		return worker.NewLambdaSpawner(client, cfg.Worker.LambdaFunction, cfg.Queue.SQSURL), nil
	case "http":
		return worker.NewHTTPSpawner(nil, cfg.Worker.SpawnURL), nil
	default:
		return worker.NopSpawner{}, nil
	}
}

// migrator is implemented by queues that own a schema.
type migrator interface {
	Migrate(ctx context.Context) error
}
