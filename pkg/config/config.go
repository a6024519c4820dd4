// Package config loads slaunch settings from command-line flags and
// SLAUNCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/sunlightlinux/slaunch/internal/util"
	"github.com/sunlightlinux/slaunch/pkg/logging"
)

// EnvPrefix prefixes every environment override, e.g. SLAUNCH_SOCKET_PATH.
const EnvPrefix = "SLAUNCH"

// Backend selects how services are controlled.
type Backend string

const (
	BackendSlinit  Backend = "slinit"
	BackendSystemd Backend = "systemd"
)

// Setting keys, shared by flags and environment variables.
const (
	KeyBackend      = "backend"
	KeySocketPath   = "socket-path"
	KeyPollInterval = "poll-interval"
	KeyWaitTimeout  = "wait-timeout"
	KeyLogLevel     = "log-level"
	KeyLogFormat    = "log-format"
	KeyMetricsFile  = "metrics-file"
)

// Settings is the resolved configuration of one invocation.
type Settings struct {
	// Positional arguments, unvalidated.
	ServiceName string
	WaitArg     string

	Backend      Backend
	SocketPath   string
	PollInterval time.Duration
	WaitTimeout  time.Duration
	LogLevel     zapcore.Level
	LogFormat    logging.Format
	MetricsFile  string

	ShowVersion bool
}

// NewFlagSet returns the slaunch flag set. Parsing stops at the first
// positional argument so a negative wait value is not taken for a flag.
func NewFlagSet(stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("slaunch", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)

	fs.StringP(KeyBackend, "b", string(BackendSlinit), "service manager backend: slinit or systemd")
	fs.StringP(KeySocketPath, "s", "", "slinit control socket path")
	fs.String(KeyPollInterval, "250ms", "status poll interval while waiting for a transition")
	fs.String(KeyWaitTimeout, "0", "give up waiting for a transition after this long (0 waits forever)")
	fs.String(KeyLogLevel, "info", "diagnostic log level: debug, info, warn, error")
	fs.String(KeyLogFormat, string(logging.FormatConsole), "diagnostic log format: console or json")
	fs.String(KeyMetricsFile, "", "write Prometheus metrics to this textfile on exit")
	fs.Bool("version", false, "show version")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: slaunch [options] <serviceName> [waitSeconds]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	return fs
}

// Load parses args (without the program name). Flags take precedence over
// environment variables, which take precedence over defaults.
// pflag.ErrHelp is returned when help was requested.
func Load(args []string, stderr io.Writer) (*Settings, error) {
	fs := NewFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	s := &Settings{
		SocketPath:  v.GetString(KeySocketPath),
		MetricsFile: v.GetString(KeyMetricsFile),
		ShowVersion: v.GetBool("version"),
	}

	if rest := fs.Args(); len(rest) > 0 {
		s.ServiceName = strings.TrimSpace(rest[0])
		if len(rest) > 1 {
			s.WaitArg = rest[1]
		}
	}

	var err error
	switch b := Backend(strings.ToLower(v.GetString(KeyBackend))); b {
	case BackendSlinit, BackendSystemd:
		s.Backend = b
	default:
		return nil, fmt.Errorf("unknown backend %q", b)
	}
	if s.PollInterval, err = util.ParseDuration(v.GetString(KeyPollInterval)); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyPollInterval, err)
	}
	if s.WaitTimeout, err = util.ParseDuration(v.GetString(KeyWaitTimeout)); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyWaitTimeout, err)
	}
	if s.LogLevel, err = logging.ParseLevel(v.GetString(KeyLogLevel)); err != nil {
		return nil, err
	}
	if s.LogFormat, err = logging.ParseFormat(v.GetString(KeyLogFormat)); err != nil {
		return nil, err
	}
	if s.MetricsFile != "" {
		if err := checkDir(util.ParentPath(s.MetricsFile)); err != nil {
			return nil, fmt.Errorf("%s: %w", KeyMetricsFile, err)
		}
	}
	return s, nil
}

func checkDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.New(dir + " is not a directory")
	}
	return nil
}
