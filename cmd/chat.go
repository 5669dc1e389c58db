package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/gdamore/tcell/v2"
	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/config"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/headless"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/killallgit/atelier/pkg/session"
	"github.com/killallgit/atelier/pkg/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [link]",
	Short: "Open the chat, optionally at a link such as /app?p=7",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	link := cfg.Link
	if len(args) == 1 {
		link = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	ctrl, client, cleanup, err := newController(cfg, link)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ctrl.Bootstrap(ctx); err != nil {
		return fmt.Errorf("could not start the chat: %w", err)
	}

	if full, _ := cmd.Flags().GetBool("tui"); full {
		screen, err := tcell.NewScreen()
		if err != nil {
			return fmt.Errorf("could not open the terminal: %w", err)
		}
		return tui.NewChatView(screen, ctrl).Run(ctx)
	}
	return headless.Run(ctx, ctrl, headless.Options{
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		Width:  100,
		Health: client,
	})
}

func init() {
	chatCmd.Flags().Bool("tui", false, "full-screen timeline instead of the line client")
}

// newController wires the API client, push dialer and session persistence
// from cfg.
func newController(cfg *config.Config, link string) (*controllers.ChatController, *api.Client, func(), error) {
	if cfg.Auth.Token == "" {
		return nil, nil, nil, fmt.Errorf("no API token: set auth.token, ATELIER_TOKEN or --token")
	}
	client := api.NewClient(cfg.API.BaseURL, cfg.Auth.Token, cfg.API.Timeout)

	record, err := session.NewRecord(cfg.Session)
	if err != nil {
		return nil, nil, nil, err
	}
	location, err := session.ParseLocation(link)
	if err != nil {
		return nil, nil, nil, err
	}
	persistence := session.NewPersistence(record, location)

	dialer := channel.NewWSDialer(cfg.API.WSURL, cfg.Channel.DialTimeout, cfg.Channel.DialAttempts)
	ctrl := controllers.NewChatController(controllers.OptionsFromConfig(cfg, client, dialer, persistence))

	cleanup := func() {
		ctrl.Close()
		if c, ok := record.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("Failed to close session record: %v", err)
			}
		}
		logger.Info("Session link: %s", location.String())
	}
	return ctrl, client, cleanup, nil
}

// apiClient builds a client for the one-shot commands.
func apiClient() (*api.Client, error) {
	cfg := config.Get()
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("no API token: set auth.token, ATELIER_TOKEN or --token")
	}
	return api.NewClient(cfg.API.BaseURL, cfg.Auth.Token, cfg.API.Timeout), nil
}

func currentUser(ctx context.Context, client *api.Client) (*api.User, error) {
	me, err := client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not sign in: %w", err)
	}
	return me, nil
}
