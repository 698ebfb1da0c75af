package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	derrors "github.com/adalundhe/docsync/core/errors"
)

var (
	configFile string
	logLevel   string
	profile    string
)

// started is set once a command's own code runs. Errors before that are
// argument or flag problems and are printed as they are.
var started bool

var rootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "docsync - edit files of a GitHub repository locally and commit them back",
	Long: `docsync opens a single file of a GitHub repository as a local working copy
and commits your edits back. When the file changed on GitHub in the meantime it
merges, offers a new branch, or forks the repository when you cannot push.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file applied over the standard layers")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Credential profile")
}

func Execute() error {
	err := rootCmd.Execute()
	closeApp()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// printError writes what the user should read. Remote and transport
// failures are replaced by their user message; the raw cause goes to the
// debug log.
func printError(w io.Writer, err error) {
	if !started || !fromRemote(err) {
		fmt.Fprintln(w, "Error:", err)
		return
	}
	slog.Debug("command failed", "error", err)
	fmt.Fprintln(w, "Error:", derrors.UserMessage(err))
}

func fromRemote(err error) bool {
	var se *derrors.SyncError
	var re *derrors.RemoteError
	var ne net.Error
	return errors.As(err, &se) || errors.As(err, &re) || errors.As(err, &ne) ||
		errors.Is(err, context.Canceled)
}

func setup(cmd *cobra.Command, args []string) error {
	started = true
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	current = a
	return nil
}

func closeApp() {
	if current != nil {
		current.Close()
		current = nil
	}
}

// newLogger builds the stderr handler chosen by log.format at level.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// signalContext is the command context, cancelled on interrupt.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}
