package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const DefaultShutdownTimeout = 30 * time.Second

// Options are the process-level flags of the taskmail binary. Everything
// about relays, auth and the review job lives in the config file.
type Options struct {
	// Application flags
	Debug bool

	// Configuration flags
	ConfigPath string

	// ListenAddress overrides server.listenAddress from the config file when set.
	ListenAddress string

	// Component flags
	DisableScheduler bool
	DisableQueue     bool

	ShutdownTimeout string
}

// AddFlags binds the options to fs. Each flag falls back to an environment
// variable when it is not given on the command line.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Debug, "debug", getEnvBool("TASKMAIL_DEBUG", false), "Enable debug level logging")
	fs.StringVar(&o.ConfigPath, "config", getEnvString("TASKMAIL_CONFIG_PATH", "./config.yaml"),
		"Path to the taskmail configuration file")
	fs.StringVar(&o.ListenAddress, "listen", getEnvString("TASKMAIL_LISTEN_ADDRESS", ""),
		"Address the API server binds to (host:port), overrides server.listenAddress")
	fs.BoolVar(&o.DisableScheduler, "disable-scheduler", getEnvBool("TASKMAIL_DISABLE_SCHEDULER", false),
		"Do not run the task review scheduler in this instance, even if review.enabled is set")
	fs.BoolVar(&o.DisableQueue, "disable-queue", getEnvBool("TASKMAIL_DISABLE_QUEUE", false),
		"Do not start the background mail queue; queued notifications are rejected with 503")
	fs.StringVar(&o.ShutdownTimeout, "shutdown-timeout", getEnvString("TASKMAIL_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout.String()),
		"How long to wait for queued mail to drain on shutdown (e.g., '30s', '1m')")
}

func (o *Options) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", o.Debug,
		"config_path", o.ConfigPath,
		"listen_address", o.ListenAddress,
		"disable_scheduler", o.DisableScheduler,
		"disable_queue", o.DisableQueue,
		"shutdown_timeout", o.ShutdownTimeout,
	)
}

func ParseShutdownTimeout(value string, log *zap.SugaredLogger) time.Duration {
	timeout, err := parseDuration("shutdown-timeout", value, DefaultShutdownTimeout)
	if err != nil {
		log.Warn(err)
	}
	return timeout
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
