package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steven-RD/obmc-console/pkg/client"
	"github.com/steven-RD/obmc-console/pkg/config"
	"github.com/steven-RD/obmc-console/pkg/terminal"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "obmc-console-client [socket-id]",
	Short: "Attach the local terminal to a host console",
	Long: `Attach the invoking terminal to a host serial console exposed by a
console server over a local Unix domain socket.

Keystrokes are relayed to the console server and console output is
relayed back, byte for byte. When stdin is a terminal it is switched
into raw mode for the duration of the session and restored on exit.

To detach without ending the host session, press Enter followed by the
escape sequence (default "~."). The server sees only a closed
connection.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.Log.ConfigureZerolog(os.Stderr)
		return nil
	},
	RunE: runConsole,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.obmc-console/config.yaml)")
	rootCmd.Flags().String("socket-id", "", "console socket id (abstract socket obmc-console.<id>)")
	rootCmd.Flags().String("socket-path", "", "filesystem socket path, overrides --socket-id")
	rootCmd.Flags().String("escape", "", "detach sequence recognized after Enter")
	rootCmd.Flags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	viper.BindPFlag("console.socket_id", rootCmd.Flags().Lookup("socket-id"))
	viper.BindPFlag("console.socket_path", rootCmd.Flags().Lookup("socket-path"))
	viper.BindPFlag("console.escape", rootCmd.Flags().Lookup("escape"))
	viper.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cfg.Console.SocketID = args[0]
	}

	ctx := context.Background()

	dialer := client.New(cfg)
	log.Debug().Str("socket", dialer.SocketName()).Msg("connecting to console server")

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	session := terminal.NewSession(conn, cfg.EscapeSequence())
	log.Debug().
		Bool("interactive", session.Interactive()).
		Str("escape", cfg.Console.Escape).
		Msg("console session starting")

	reason, err := session.Start(ctx)
	if err != nil {
		return fmt.Errorf("console session failed: %w", err)
	}

	log.Debug().Stringer("reason", reason).Msg("console session ended")

	if reason == terminal.ReasonRemoteClosed {
		fmt.Fprintln(os.Stderr, "Connection closed")
	}

	return nil
}
