package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/database"
	"stock-lstm-research/internal/market"
	"stock-lstm-research/internal/metrics"
	"stock-lstm-research/internal/notifier"
	"stock-lstm-research/internal/s3"
	"stock-lstm-research/internal/sqs"
	"stock-lstm-research/internal/task"
	"stock-lstm-research/internal/train"
)

const (
	SourceDatabase = "db"
	SourceBinance  = "binance"

	CacheFile     = "file"
	CachePgvector = "pgvector"
	CacheNone     = "none"
)

// dataOptions select where a task's table comes from and where its windows
// are cached.
type dataOptions struct {
	Code     string
	Epochs   int
	Source   string
	Cache    string
	NoLedger bool
}

func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().String("code", "", "instrument code overriding the preset")
	cmd.Flags().Int("epochs", 0, "epoch count overriding the preset")
	cmd.Flags().String("source", SourceDatabase, "table source: db or binance")
	cmd.Flags().String("cache", CacheFile, "window cache: file, pgvector or none")
	cmd.Flags().Bool("no-ledger", false, "do not record the run in the database")
}

func readDataFlags(cmd *cobra.Command) (dataOptions, error) {
	var o dataOptions
	o.Code, _ = cmd.Flags().GetString("code")
	o.Epochs, _ = cmd.Flags().GetInt("epochs")
	o.Source, _ = cmd.Flags().GetString("source")
	o.Cache, _ = cmd.Flags().GetString("cache")
	o.NoLedger, _ = cmd.Flags().GetBool("no-ledger")
	return o, o.validate()
}

func (o dataOptions) validate() error {
	switch o.Source {
	case SourceDatabase, SourceBinance:
	default:
		return fmt.Errorf("unknown source %q", o.Source)
	}
	switch o.Cache {
	case CacheFile, CachePgvector, CacheNone:
	default:
		return fmt.Errorf("unknown cache %q", o.Cache)
	}
	if o.Epochs < 0 {
		return fmt.Errorf("epochs must be >= 0")
	}
	return nil
}

func (o dataOptions) needsDatabase() bool {
	return o.Source == SourceDatabase || o.Cache == CachePgvector
}

// apply returns a copy of p with the flag overrides set.
func (o dataOptions) apply(p *task.Preset) *task.Preset {
	c := *p
	if o.Code != "" {
		c.Code = o.Code
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	return &c
}

// session owns the connections opened for one command.
type session struct {
	*env
	db      *database.PostgresDB
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openSession connects to Postgres when it is configured. required makes a
// missing configuration an error.
func (e *env) openSession(ctx context.Context, required bool) (*session, error) {
	s := &session{env: e}
	if !e.cfg.Database.Configured() {
		if required {
			return nil, fmt.Errorf("database is not configured (set DB_NAME and DB_USER)")
		}
		return s, nil
	}
	if err := e.cfg.ResolveDatabasePassword(ctx); err != nil {
		return nil, err
	}
	db, err := database.NewPostgresDB(ctx, e.cfg.Database.ConnString())
	if err != nil {
		if required {
			return nil, err
		}
		e.logger.Warn("Database unavailable, continuing without it", "error", err)
		return s, nil
	}
	e.logger.Info("Connected to Postgres & pgvector", "host", e.cfg.Database.DBHost, "db", e.cfg.Database.DBName)
	s.db = db
	s.closers = append(s.closers, db.Close)
	return s, nil
}

func (s *session) loader(source string) (task.TableLoader, error) {
	switch source {
	case SourceDatabase:
		if s.db == nil {
			return nil, fmt.Errorf("source %s needs a database", source)
		}
		return task.FeatureTableLoader(database.NewFeatureStore(s.db)), nil
	case SourceBinance:
		return task.KlineLoader(market.NewHistory(s.cfg.Market.ApiKey, s.cfg.Market.ApiSecret, s.logger)), nil
	}
	return nil, fmt.Errorf("unknown source %q", source)
}

func (s *session) windowCache(ctx context.Context, kind string) (cache.Store, error) {
	switch kind {
	case CacheNone:
		return nil, nil
	case CacheFile:
		return cache.NewFileCache(s.cfg.Paths.CacheDir), nil
	case CachePgvector:
		if s.db == nil {
			return nil, fmt.Errorf("cache %s needs a database", kind)
		}
		store := database.NewWindowStore(s.db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown cache %q", kind)
}

// sinks returns the publishers enabled by configuration.
func (s *session) sinks(ctx context.Context, p *task.Preset) []train.Sink {
	var out []train.Sink
	if bucket := s.cfg.AWS.ArtifactBucket; bucket != "" {
		up, err := s3.NewUploader(ctx, s.cfg.AWS.Region, bucket, "research/"+p.Name, s.logger)
		if err != nil {
			s.logger.Warn("S3 uploads disabled", "error", err)
		} else {
			out = append(out, up)
		}
	}
	if url := s.cfg.Discord.ChartWebhookURL; url != "" {
		out = append(out, notifier.NewDiscordClient(url, p.Title(), s.logger))
	}
	return out
}

// callbacks returns the per-epoch recorders enabled by configuration.
func (s *session) callbacks(ctx context.Context, p *task.Preset, ledger bool) []train.Callback {
	var out []train.Callback
	if ledger && s.db != nil {
		gdb, err := database.OpenLedger(s.cfg.Database.ConnString())
		if err != nil {
			s.logger.Warn("Run ledger disabled", "error", err)
		} else {
			if sqlDB, err := gdb.DB(); err == nil {
				s.closers = append(s.closers, func() { sqlDB.Close() })
			}
			out = append(out, database.NewRunLedger(gdb, p.Name, p.Code, p.Target, p.PredictionStep, p.Epochs, s.logger))
		}
	}
	if url := s.cfg.Metrics.PushgatewayURL; url != "" {
		out = append(out, metrics.NewTelemetry(url, s.cfg.Metrics.Job, p.Name, s.logger))
	}
	if queue := s.cfg.AWS.EpochQueueURL; queue != "" {
		client, err := sqs.NewClient(ctx, s.cfg.AWS.Region)
		if err != nil {
			s.logger.Warn("Epoch reports disabled", "error", err)
		} else {
			out = append(out, sqs.NewEpochPublisher(client, queue, p.Name, s.logger))
		}
	}
	return out
}

// runtime assembles everything a task run needs for p.
func (s *session) runtime(ctx context.Context, p *task.Preset, o dataOptions) (*task.Runtime, error) {
	load, err := s.loader(o.Source)
	if err != nil {
		return nil, err
	}
	store, err := s.windowCache(ctx, o.Cache)
	if err != nil {
		return nil, err
	}
	return &task.Runtime{
		Logger:    s.logger,
		Paths:     s.cfg.Paths,
		Cache:     store,
		Load:      load,
		Sinks:     s.sinks(ctx, p),
		Callbacks: s.callbacks(ctx, p, !o.NoLedger),
	}, nil
}
