package main

import (
	"os"
	"strings"

	"github.com/dkeye/collabhub/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "collabhub",
		Short:         "Real-time collaboration hub for shared lists and recipes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Console output until the config says otherwise.
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.InfoLevel)

			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			setupLogger(cfg.Log)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.Int("port", 8080, "listen port")
	flags.String("mode", "release", "gin mode (debug, release)")
	flags.String("log-level", "info", "log level")
	_ = a.v.BindPFlag("port", flags.Lookup("port"))
	_ = a.v.BindPFlag("mode", flags.Lookup("mode"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	cmd.AddCommand(newServeCmd(a), newTokenCmd(a))
	return cmd
}

func setupLogger(cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
