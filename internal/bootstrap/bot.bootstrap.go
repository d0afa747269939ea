package bootstrap

import (
	"context"
	"errors"

	"github.com/braydio/Override-RSA/internal/bot"
	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/infrastructure"
	"github.com/braydio/Override-RSA/internal/market"
	"github.com/braydio/Override-RSA/internal/service/dispatcher"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartBot runs the long-lived Discord bot with a health endpoint for
// container probes.
func StartBot(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discordCfg := config.Env.Discord
	if discordCfg.Token == "" {
		util.ContinueOrFatal(errors.New("discord token is not configured"))
	}
	if discordCfg.ChannelID == "" {
		util.ContinueOrFatal(errors.New("discord channel id is not configured"))
	}

	clock := market.NewClock()
	discordBot := bot.New(bot.Config{
		Token:     discordCfg.Token,
		ChannelID: discordCfg.ChannelID,
		Prefix:    discordCfg.Prefix,
	}, clock)

	// Bot replies join the notifier fan-out so adapter status lines
	// reach the channel as well as the console.
	deps, err := buildRuntime(ctx, discordBot)
	util.ContinueOrFatal(err)

	registerBrokers(deps.store, discordBot)
	discordBot.SetDispatcher(dispatcher.New(clock, deps.notifier))

	go func() {
		if err := discordBot.Run(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	healthPort := config.Env.HealthPort
	if healthPort == "" {
		healthPort = "8080"
	}
	healthServer := infrastructure.NewHealthServer(":"+healthPort, nil)
	go func() {
		if err := healthServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()

	ops := map[string]operation{
		"discord gateway": func(ctx context.Context) error {
			cancel()
			return nil
		},
		"health server": healthServer.Shutdown,
	}
	for key, op := range deps.cleanup {
		ops[key] = op
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, ops)

	<-wait
}
