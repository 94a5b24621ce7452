package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/convivencia/phidiasync/internal/client/api"
	"github.com/convivencia/phidiasync/internal/client/config"
	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
)

// API is the subset of the server API syncctl drives.
type API interface {
	SetToken(token string)
	Login(ctx context.Context, username, password string) (*api.LoginResult, error)
	Logout(ctx context.Context) (bool, error)
	Trigger(ctx context.Context) (string, error)
	Abort(ctx context.Context, runID string) error
	Status(ctx context.Context) (*api.Status, error)
	History(ctx context.Context, limit, offset int) ([]api.Run, error)
	Run(ctx context.Context, runID string) (*api.Run, []api.Log, error)
	Logs(ctx context.Context, f api.LogFilter, limit, offset int) ([]api.Log, error)
}

// App carries state shared by all commands of one invocation.
type App struct {
	configPath string
	serverURL  string
	debug      bool

	cfg    *config.Config
	client API
	logger logging.Logger

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	newAPI func(cfg *config.Config) API
}

func newApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
		logger: logging.Nop(),
		newAPI: func(cfg *config.Config) API {
			return api.New(cfg.ServerURL, cfg.Token, cfg.Timeout.Duration)
		},
	}
}

// NewRootCmd builds the syncctl command tree.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCmd(newApp(in, out, errOut))
}

func newRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the Phidias sync server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/phidiasync/syncctl.toml)")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "server base URL, overrides server_url")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "log requests to stderr")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newTriggerCmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
		newLogsCmd(a),
		newAbortCmd(a),
	)
	return root
}

// Execute runs syncctl with os.Args and reports failures on stderr.
func Execute(ctx context.Context) int {
	root := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		return 1
	}
	return 0
}

func (a *App) init() error {
	if a.debug {
		a.logger = logging.NewJSONLogger(a.errOut, slog.LevelDebug).With("module", "syncctl")
	}

	if a.configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		a.configPath = p
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	a.cfg = cfg
	a.client = a.newAPI(cfg)
	return nil
}

func (a *App) save() error {
	return config.Save(a.configPath, a.cfg)
}

func (a *App) requireSession() error {
	if !a.cfg.LoggedIn() {
		return errNotLoggedIn
	}
	return nil
}

var errNotLoggedIn = errors.New("not logged in")

// describe turns API failures into operator-facing messages.
func describe(err error) string {
	switch {
	case errors.Is(err, errNotLoggedIn):
		return "not logged in; run 'syncctl login'"
	case errors.Is(err, common.ErrorUnauthorized):
		return "session is missing or expired; run 'syncctl login'"
	case errors.Is(err, common.ErrForbidden):
		return "your account is not allowed to operate the sync"
	case errors.Is(err, common.ErrConflict):
		return "a sync run is already in progress"
	case errors.Is(err, common.ErrNotRunning):
		return "that run is not in progress"
	case errors.Is(err, common.ErrorNotFound):
		return "not found"
	case errors.Is(err, api.ErrUnavailable):
		return "server unavailable: " + err.Error()
	}
	return err.Error()
}
