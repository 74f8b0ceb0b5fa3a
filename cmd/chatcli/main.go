// Command chatcli is a terminal client for the chat backend.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatcore/internal/auth"
	"github.com/xiaot623/gogo/chatcore/internal/config"
	"github.com/xiaot623/gogo/chatcore/internal/domain"
	"github.com/xiaot623/gogo/chatcore/internal/logging"
	"github.com/xiaot623/gogo/chatcore/internal/registry"
)

type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	tokens   *auth.Holder
	registry *registry.Client
	chatType domain.ChatType
}

type globalFlags struct {
	envFile  string
	token    string
	chatType string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	a := &app{}

	root := &cobra.Command{
		Use:           "chatcli",
		Short:         "Chat with the assistant backend from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "load variables from this .env file first")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "bearer token (overrides CHAT_AUTH_TOKEN)")
	root.PersistentFlags().StringVar(&flags.chatType, "type", "", "chat type (overrides CHAT_TYPE)")

	root.AddCommand(newSessionsCmd(a), newHistoryCmd(a), newChatCmd(a))
	return root
}

func (a *app) init(flags globalFlags) error {
	if err := config.LoadEnvFile(flags.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flags.token != "" {
		cfg.AuthToken = flags.token
	}
	if flags.chatType != "" {
		cfg.ChatType = flags.chatType
	}
	chatType := domain.ChatType(cfg.ChatType)
	if !chatType.Valid() {
		return fmt.Errorf("invalid chat type %q", cfg.ChatType)
	}

	a.cfg = cfg
	a.chatType = chatType
	a.logger = logging.New(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	a.tokens = auth.NewHolder(cfg.AuthToken)
	a.registry = registry.NewClient(cfg.APIURL, cfg.HTTPTimeout(), a.tokens, logging.Component(a.logger, "registry"))
	return nil
}
