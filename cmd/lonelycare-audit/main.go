// lonelycare-audit 导出安全日志（security_logs）为 Excel 文件。
// 存储后端与连接参数沿用服务的环境变量（STORE_BACKEND、DB_*、REDIS_*）。
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/consil800/lonely-care-sub004/common/database"
	"github.com/consil800/lonely-care-sub004/common/logger"
	commonredis "github.com/consil800/lonely-care-sub004/common/redis"
	"github.com/consil800/lonely-care-sub004/internal/audit"
	"github.com/consil800/lonely-care-sub004/internal/config"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		userID   string
		logType  string
		fromFlag string
		toFlag   string
		since    time.Duration
		limit    int
		out      string
		timezone string
	)

	flagSet := pflag.NewFlagSet("lonelycare-audit", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "only export logs of this user")
	flagSet.StringVar(&logType, "type", "", "only export this log type, e.g. TIMESTAMP_DRIFT")
	flagSet.StringVar(&fromFlag, "from", "", "start time (RFC3339)")
	flagSet.StringVar(&toFlag, "to", "", "end time (RFC3339, default now)")
	flagSet.DurationVar(&since, "since", 7*24*time.Hour, "export the last duration when --from is not set")
	flagSet.IntVar(&limit, "limit", 10000, "maximum number of rows")
	flagSet.StringVarP(&out, "output", "o", "security_logs.xlsx", "output file")
	flagSet.StringVar(&timezone, "timezone", "UTC", "timezone used for the Observed At column")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	filter, err := buildFilter(userID, logType, fromFlag, toFlag, since, limit, time.Now())
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("invalid --timezone: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Format:      "console",
		ServiceName: "lonelycare-audit",
	})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entries, err := store.QuerySecurityLogs(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to query security logs: %w", err)
	}

	data, err := audit.ExportSecurityLogs(entries, loc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	log.Info("Security logs exported",
		zap.String("output", out),
		zap.Int("rows", len(entries)),
		zap.Time("from", filter.From),
		zap.Time("to", filter.To),
	)
	return nil
}

func buildFilter(userID, logType, fromFlag, toFlag string, since time.Duration, limit int, now time.Time) (repository.SecurityLogFilter, error) {
	filter := repository.SecurityLogFilter{
		UserID: userID,
		Type:   models.SecurityLogType(logType),
		Limit:  limit,
		To:     now,
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, fmt.Errorf("unknown --type %q", logType)
	}

	if toFlag != "" {
		to, err := time.Parse(time.RFC3339, toFlag)
		if err != nil {
			return filter, fmt.Errorf("invalid --to: %w", err)
		}
		filter.To = to
	}

	if fromFlag != "" {
		from, err := time.Parse(time.RFC3339, fromFlag)
		if err != nil {
			return filter, fmt.Errorf("invalid --from: %w", err)
		}
		filter.From = from
	} else {
		filter.From = filter.To.Add(-since)
	}

	if filter.From.After(filter.To) {
		return filter, fmt.Errorf("--from must not be after --to")
	}
	return filter, nil
}

func openStore(cfg *config.Config, log *zap.Logger) (repository.PresenceStore, func(), error) {
	switch cfg.Presence.StoreBackend {
	case "postgres":
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect database: %w", err)
		}
		return repository.NewPostgresPresenceStore(db, log), func() { _ = database.Close(db) }, nil
	case "redis":
		client, err := commonredis.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		store := repository.NewRedisPresenceStore(
			client,
			cfg.Presence.Cache.KeyPrefix,
			cfg.Presence.Cache.SecurityLogStream,
			cfg.Presence.Cache.StreamMaxLen,
			log,
		)
		return store, func() { _ = commonredis.Close(client) }, nil
	default:
		return nil, nil, fmt.Errorf("store backend %s has no persistent security logs", cfg.Presence.StoreBackend)
	}
}
