// Package app assembles the services shared by the API server and the
// workers from one configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"controlled-docs/edms-backend/internal/assignment"
	"controlled-docs/edms-backend/internal/audit"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/config"
	"controlled-docs/edms-backend/internal/dependencies"
	"controlled-docs/edms-backend/internal/documents"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/notifications"
	"controlled-docs/edms-backend/internal/repository"
	"controlled-docs/edms-backend/internal/workflow"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB     *sqlx.DB
	Repo   repository.Repository
	Outbox notifications.Outbox
	Audit  audit.Sink
	Oracle auth.Oracle

	Notifier     *notifications.Service
	Assignment   *assignment.Service
	Dependencies *dependencies.Service
	Documents    documents.Service
	Engine       *workflow.Engine
}

// New opens the store named by cfg.Database.Driver and builds the services
// on top of it. The memory driver keeps everything in process.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Oracle: auth.NewUserOracle()}

	var sinks []audit.Sink
	switch cfg.Database.Driver {
	case "memory":
		repo := repository.NewMemoryRepository()
		if err := repo.CreateUser(ctx, models.SystemUser()); err != nil {
			return nil, fmt.Errorf("failed to seed system user: %w", err)
		}
		a.Repo = repo
		a.Outbox = notifications.NewMemoryOutbox()
		sinks = append(sinks, audit.NewMemorySink())
	default:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.MaxLifetime)
		a.DB = db

		if cfg.Database.MigrationsPath != "" {
			if err := repository.Migrate(ctx, db, cfg.Database.MigrationsPath, logger); err != nil {
				db.Close()
				return nil, err
			}
		}

		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open notification store: %w", err)
		}
		outbox, err := notifications.NewGormOutbox(gdb)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Repo = repository.NewPostgresRepository(db)
		a.Outbox = outbox
		sinks = append(sinks, audit.NewPostgresSink(db))
	}

	if len(cfg.Audit.ElasticAddresses) > 0 {
		es, err := audit.NewElasticSink(audit.ElasticConfig{
			Addresses: cfg.Audit.ElasticAddresses,
			Username:  cfg.Audit.ElasticUsername,
			Password:  cfg.Audit.ElasticPassword,
			Index:     cfg.Audit.ElasticIndex,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create audit mirror: %w", err)
		}
		sinks = append(sinks, es)
	}
	a.Audit = audit.NewMultiSink(logger, sinks...)

	a.Notifier = notifications.NewService(a.Outbox, logger)
	a.Assignment = assignment.NewService(a.Repo, a.Oracle, AssignmentConfig(cfg.Assignment), logger)
	a.Dependencies = dependencies.NewService(a.Repo, a.Oracle, a.Audit, logger)
	a.Documents = documents.NewService(a.Repo, a.Oracle, a.Audit, logger)
	a.Engine = workflow.NewEngine(a.Repo, a.Oracle, a.Assignment, a.Audit, a.Notifier, logger)
	return a, nil
}

// AssignmentConfig maps the workload thresholds of the configuration file.
func AssignmentConfig(c config.AssignmentConfig) assignment.Config {
	return assignment.Config{
		Review: assignment.Thresholds{
			LowMax:    c.ReviewLowMax,
			NormalMax: c.ReviewNormalMax,
			Capacity:  c.ReviewCapacity,
		},
		Approval: assignment.Thresholds{
			LowMax:    c.ApprovalLowMax,
			NormalMax: c.ApprovalNormal,
			Capacity:  c.ApprovalCapacity,
		},
	}
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
