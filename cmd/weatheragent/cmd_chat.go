package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/sessions"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent in the terminal",
	Long: "Talk to the agent in the terminal. Navigation is printed as links into the web app.\n" +
		"Ctrl-C cancels the request in progress; /quit or Ctrl-D exits.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := context.Background()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		return chatLoop(ctx, a.sessions, cfg.HTTP.AppURL, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// terminalNavigator prints each navigation as a deep link.
func terminalNavigator(out io.Writer, appURL string) tools.Navigator {
	return tools.NavigatorFunc(func(ctx context.Context, route tools.Route, query map[string]string) error {
		_, err := fmt.Fprintf(out, "  -> %s\n", tools.Link(appURL, route, query))
		return err
	})
}

func chatLoop(ctx context.Context, mgr *sessions.Manager, appURL string, in io.Reader, out io.Writer) error {
	key := types.NewSessionKey("terminal", string(types.NewSessionID()))
	sess, _ := mgr.Resolve(ctx, key, terminalNavigator(out, appURL))
	defer mgr.Close(key)

	for _, m := range sess.Messages() {
		fmt.Fprintf(out, "agent> %s\n", m.Text)
	}
	if !sess.Available() {
		return fmt.Errorf("agent unavailable: %w", sess.Err())
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		turn, err := mgr.Submit(turnCtx, sess, line)
		stop()
		if err != nil {
			if errors.Is(err, runtime.ErrClosed) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "agent> %s\n", turn.Reply.Text)
	}
}
