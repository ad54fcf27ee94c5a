package flags

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/ruteri/object-storage-backend/common"
	"github.com/ruteri/object-storage-backend/httpserver"
	"github.com/urfave/cli/v2"
)

// LoadEnv loads .env style files into the process environment before flags are
// parsed, so every flag with EnvVars can be set from them. Missing files are
// skipped; variables already set win.
func LoadEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		AdminToken:               cCtx.String(AdminTokenFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// Downloads stream whole objects; writes get more room than reads.
		WriteTimeout: 5 * time.Minute,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"LISTEN_ADDR"},
}

var DatabaseFlag = &cli.StringFlag{
	Name:    "database",
	Value:   "file:storage.db?_pragma=busy_timeout(5000)",
	Usage:   "backend config database: postgres:// DSN or SQLite file DSN",
	EnvVars: []string{"DATABASE_URL"},
}

var SeedConfigFlag = &cli.StringFlag{
	Name:    "seed-config",
	Usage:   "JSON file with backend configs to create when missing",
	EnvVars: []string{"STORAGE_SEED_CONFIG"},
}

var AdminTokenFlag = &cli.StringFlag{
	Name:    "admin-token",
	Usage:   "bearer token required by the admin API; empty disables the check",
	EnvVars: []string{"STORAGE_ADMIN_TOKEN"},
}

var SessionTTLFlag = &cli.DurationFlag{
	Name:    "upload-session-ttl",
	Value:   24 * time.Hour,
	Usage:   "idle time after which multipart upload sessions expire",
	EnvVars: []string{"UPLOAD_SESSION_TTL"},
}

var ReapIntervalFlag = &cli.DurationFlag{
	Name:    "upload-reap-interval",
	Value:   10 * time.Minute,
	Usage:   "how often expired upload sessions are removed",
	EnvVars: []string{"UPLOAD_REAP_INTERVAL"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:    "log-service",
	Value:   "object-storage",
	Usage:   "add 'service' tag to logs",
	EnvVars: []string{"LOG_SERVICE"},
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait after marking the server not ready on shutdown",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"METRICS_ADDR"},
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
