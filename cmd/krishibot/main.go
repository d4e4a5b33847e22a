package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"krishibot/internal/channel"
	"krishibot/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "krishibot",
		Short: "krishibot: WhatsApp farming assistant for Kerala farmers",
		Long:  "krishibot answers farming questions in Malayalam over WhatsApp and Telegram — by text, voice note, or plant photo.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.krishibot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("next: fill in llm.apiKey and the twilio credentials, then run `krishibot serve`")
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var via string
	cmd := &cobra.Command{
		Use:   "send [recipient] [message]",
		Short: "Send a proactive message outside the webhook cycle",
		Long:  "Delivers a message to a recipient (e.g. \"whatsapp:+91...\" or a Telegram chat ID) without waiting for an inbound webhook.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.ValidateCredentials(cfg); err != nil {
				return err
			}

			to, text := args[0], args[1]
			ctx := context.Background()

			switch via {
			case "whatsapp":
				tw := channel.NewTwilio(channel.TwilioChannelConfig{
					Config: cfg.Channels.Twilio,
					Logger: logger,
				})
				sid, err := tw.Send(ctx, to, text)
				if err != nil {
					return fmt.Errorf("send: %w", err)
				}
				logger.Info("message sent", "to", to, "sid", sid)
			case "telegram":
				tg := channel.NewTelegram(channel.TelegramChannelConfig{
					Token:  cfg.Channels.Telegram.Token,
					Logger: logger,
				})
				if err := tg.Connect(); err != nil {
					return err
				}
				if err := tg.Send(ctx, to, text); err != nil {
					return fmt.Errorf("send: %w", err)
				}
				logger.Info("message sent", "to", to)
			default:
				return fmt.Errorf("unknown channel %q (want whatsapp or telegram)", via)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&via, "via", "whatsapp", "channel to send through (whatsapp, telegram)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("llm", "model", cfg.LLM.Model, "vision_model", cfg.LLM.VisionModel,
				"key_set", cfg.LLM.APIKey != "")
			logger.Info("channels",
				"twilio", cfg.Channels.Twilio.Enabled,
				"telegram", cfg.Channels.Telegram.Enabled,
			)
			logger.Info("voice", "enabled", cfg.General.VoiceReplyEnabled,
				"tts_provider", cfg.Speech.TTS.Provider)
			if err := config.ValidateCredentials(cfg); err != nil {
				logger.Warn("credentials incomplete", "err", err)
			} else {
				logger.Info("credentials complete")
			}
			return nil
		},
	}
}
