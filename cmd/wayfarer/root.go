package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"wayfarer/cmd/internal/app"
	"wayfarer/cmd/internal/client"
	"wayfarer/cmd/internal/escalation"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	keyConfig         = "config"
	keyServer         = "server"
	keyLogLevel       = "log-level"
	keyLogFormat      = "log-format"
	keyTimeout        = "timeout"
	keyRenewalTimeout = "renewal-timeout"
	keyStateDir       = "state-dir"
	keyProfile        = "profile"
	keyOutput         = "output"
	keyBearer         = "bearer"
	keySessionStore   = "session-store"

	defaultConfigFile = "config.yaml"
)

// cli carries per-invocation state shared by the subcommands.
type cli struct {
	v   *viper.Viper
	log *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New(), log: app.Discard()}
	defaults := client.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "wayfarer",
		Short:         "Command line client for the wayfarer API with transparent session renewal",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # sign in against a local dev backend
  wayfarer --server http://127.0.0.1:8080 login --username ada

  # concurrent reads share one session renewal
  wayfarer fetch /forums /posts /travels

  # chat in a conversation, one message per stdin line
  wayfarer chat trip-42
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.loadConfigFile()
			if err != nil {
				return err
			}
			c.log = app.NewLogger(cmd.ErrOrStderr(), c.v.GetString(keyLogLevel), c.v.GetString(keyLogFormat))
			if path != "" {
				c.log.Debug("cli.config.loaded", "path", path)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "path to YAML config file (defaults to <state-dir>/"+defaultConfigFile+")")
	flags.String(keyServer, defaults.BaseURL, "API base URL")
	flags.String(keyLogLevel, "warn", "log level (debug|info|warn|error)")
	flags.String(keyLogFormat, app.FormatPretty, "log format (pretty|json|text)")
	flags.Duration(keyTimeout, defaults.Timeout, "per-request timeout")
	flags.Duration(keyRenewalTimeout, defaults.RenewalTimeout, "session renewal timeout")
	flags.String(keyStateDir, "~/.wayfarer", "directory holding cookies and the session flag (empty keeps them in memory)")
	flags.String(keyProfile, defaults.Profile, "state profile name")
	flags.StringP(keyOutput, "o", "json", "output format (json|yaml|raw)")
	flags.Bool(keyBearer, false, "use bearer tokens instead of cookies")
	flags.String(keySessionStore, "", "session flag store URL (memory:, file://, redis://, postgres://); defaults to a file under the state dir")

	c.bind(keyConfig, "WAYFARER_CONFIG", flags.Lookup(keyConfig))
	c.bind(keyServer, "WAYFARER_SERVER_URL", flags.Lookup(keyServer))
	c.bind(keyLogLevel, "WAYFARER_LOG_LEVEL", flags.Lookup(keyLogLevel))
	c.bind(keyLogFormat, "WAYFARER_LOG_FORMAT", flags.Lookup(keyLogFormat))
	c.bind(keyTimeout, "WAYFARER_TIMEOUT", flags.Lookup(keyTimeout))
	c.bind(keyRenewalTimeout, "WAYFARER_RENEWAL_TIMEOUT", flags.Lookup(keyRenewalTimeout))
	c.bind(keyStateDir, "WAYFARER_STATE_DIR", flags.Lookup(keyStateDir))
	c.bind(keyProfile, "WAYFARER_PROFILE", flags.Lookup(keyProfile))
	c.bind(keyOutput, "WAYFARER_OUTPUT", flags.Lookup(keyOutput))
	c.bind(keyBearer, "WAYFARER_BEARER", flags.Lookup(keyBearer))
	c.bind(keySessionStore, "WAYFARER_SESSION_STORE", flags.Lookup(keySessionStore))

	cmd.AddCommand(
		newLoginCommand(c),
		newRegisterCommand(c),
		newLogoutCommand(c),
		newStatusCommand(c),
		newRequestCommand(c, "get"),
		newRequestCommand(c, "post"),
		newRequestCommand(c, "put"),
		newRequestCommand(c, "patch"),
		newRequestCommand(c, "delete"),
		newFetchCommand(c),
		newChatCommand(c),
	)
	return cmd
}

func (c *cli) bind(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := c.v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := c.v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

// loadConfigFile reads the explicit --config file, or the default one under
// the state dir when it exists.
func (c *cli) loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(c.v.GetString(keyConfig))
	explicit := cfgPath != ""
	if !explicit {
		dir, err := expandPath(c.v.GetString(keyStateDir))
		if err != nil || dir == "" {
			return "", nil
		}
		cfgPath = filepath.Join(dir, defaultConfigFile)
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	c.v.SetConfigFile(expanded)
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// clientConfig maps flags, env and config file onto client.Config.
func (c *cli) clientConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.BaseURL = strings.TrimSpace(c.v.GetString(keyServer))
	cfg.Timeout = c.v.GetDuration(keyTimeout)
	cfg.RenewalTimeout = c.v.GetDuration(keyRenewalTimeout)
	cfg.Bearer = c.v.GetBool(keyBearer)
	if p := strings.TrimSpace(c.v.GetString(keyProfile)); p != "" {
		cfg.Profile = p
	}
	cfg.UserAgent = "wayfarer-cli"

	dir, err := expandPath(c.v.GetString(keyStateDir))
	if err != nil {
		return client.Config{}, fmt.Errorf("%w: state dir: %v", client.ErrConfig, err)
	}
	if dir != "" {
		profileDir := filepath.Join(dir, cfg.Profile)
		cfg.CookieFile = filepath.Join(profileDir, "cookies.json")
		cfg.SessionStore = "file://" + filepath.ToSlash(filepath.Join(profileDir, "session.json"))
	}
	if s := strings.TrimSpace(c.v.GetString(keySessionStore)); s != "" {
		cfg.SessionStore = s
	}
	return cfg, cfg.Validate()
}

// newClient builds a client whose escalation is reported on stderr: a CLI has
// no login view to navigate to.
func (c *cli) newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}
	errOut := cmd.ErrOrStderr()
	return client.New(cmd.Context(), cfg,
		client.WithLogger(c.log),
		client.WithNavigator(escalation.NewLogNavigator(c.log, cmd.CommandPath())),
		client.WithNotifier(escalation.NotifierFunc(func(_ context.Context, message string, _ error) {
			fmt.Fprintf(errOut, "%s Run `wayfarer login` to sign in again.\n", message)
		})),
	)
}

func (c *cli) output() string { return strings.ToLower(strings.TrimSpace(c.v.GetString(keyOutput))) }

func expandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
