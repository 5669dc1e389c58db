package cmd

import (
	"fmt"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/config"
	"github.com/killallgit/atelier/pkg/stubserver"
	"github.com/spf13/cobra"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run an in-memory backend for local use",
	Long: `stub serves the backend API and push socket from memory, with a demo
project, so the chat can be tried without the real service.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		username, _ := cmd.Flags().GetString("user")

		token := config.Get().Auth.Token
		if token == "" {
			token = "dev-token"
		}
		srv := newStub(token, username)
		fmt.Fprintf(cmd.OutOrStdout(), "Stub backend on http://%s/api (token %q)\n", addr, token)
		return srv.Run(addr)
	},
}

func newStub(token, username string) *stubserver.Server {
	srv := stubserver.New(token, api.User{ID: "1", Username: username})
	srv.AddProject("1", "Living room refresh", "living room")
	return srv
}

func init() {
	stubCmd.Flags().String("addr", "localhost:8000", "listen address")
	stubCmd.Flags().String("user", "demo", "username the stub signs in as")
}
