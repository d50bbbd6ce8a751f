package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/app"
	"controlled-docs/edms-backend/internal/config"
	"controlled-docs/edms-backend/internal/notifications"
	"controlled-docs/edms-backend/internal/scheduler"
	"controlled-docs/edms-backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	once := flag.Bool("once", false, "run every automation job once and exit")
	job := flag.String("job", "", "with -once, run only the named job")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise services", zap.Error(err))
	}
	defer svc.Close()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatal("Invalid scheduler timezone", zap.Error(err))
	}
	runner := scheduler.NewRunner(svc.Repo, svc.Engine, loc, cfg.Scheduler.MaxConcurrent, log)
	manager, err := scheduler.NewManager(runner, cfg.Scheduler, log)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}

	if *once {
		code := runOnce(ctx, log, runner, manager, *job)
		svc.Close()
		_ = log.Sync()
		os.Exit(code)
	}

	channels, err := deliveryChannels(ctx, cfg.Notifications)
	if err != nil {
		log.Fatal("Failed to configure notification channels", zap.Error(err))
	}
	if len(channels) == 0 {
		log.Warn("No delivery channel configured; notifications stay in the outbox")
	} else {
		dispatcher := notifications.NewDispatcher(svc.Outbox, svc.Repo, channels, notifications.DispatcherConfig{
			Interval:    cfg.Notifications.DispatchInterval,
			BatchSize:   cfg.Notifications.BatchSize,
			MaxAttempts: cfg.Notifications.MaxAttempts,
			Backoff:     cfg.Notifications.RetryBackoff,
		}, log)
		go dispatcher.Run(ctx)
	}

	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	for _, name := range []string{scheduler.JobEffective, scheduler.JobObsolescence, scheduler.JobPeriodicReview, scheduler.JobOverdue} {
		if status, err := manager.JobStatus(name); err == nil {
			log.Info("Scheduled job", zap.String("job", name), zap.Time("next_run", status.NextRun))
		}
	}

	<-ctx.Done()
	log.Info("Shutting down workers...")
	manager.Stop()
	log.Info("Workers exiting")
}

func runOnce(ctx context.Context, log *zap.Logger, runner *scheduler.Runner, manager *scheduler.Manager, job string) int {
	var reports []scheduler.Report
	if job != "" {
		report, err := manager.RunNow(ctx, job)
		if err != nil {
			log.Error("Job failed", zap.String("job", job), zap.Error(err))
			return 1
		}
		reports = append(reports, report)
	} else {
		var err error
		reports, err = runner.RunAll(ctx)
		if err != nil {
			log.Error("Automation run failed", zap.Error(err))
			return 1
		}
	}

	code := 0
	for _, r := range reports {
		log.Info("Job completed",
			zap.String("job", r.Job),
			zap.Int("scanned", r.Scanned),
			zap.Int("applied", r.Applied),
			zap.Int("skipped", r.Skipped),
			zap.Int("failed", r.Failed))
		if r.Failed > 0 {
			code = 1
		}
	}
	return code
}

// deliveryChannels builds the AWS channels that are configured.
func deliveryChannels(ctx context.Context, cfg config.NotificationsConfig) ([]notifications.Channel, error) {
	if cfg.SESSender == "" && cfg.SNSTopicARN == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}

	var channels []notifications.Channel
	if cfg.SESSender != "" {
		channels = append(channels, notifications.NewEmailChannel(sesv2.NewFromConfig(awsCfg), cfg.SESSender))
	}
	if cfg.SNSTopicARN != "" {
		channels = append(channels, notifications.NewTopicChannel(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN))
	}
	return channels, nil
}
