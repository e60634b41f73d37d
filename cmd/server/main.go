package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Tyrowin/botchat/internal/bot"
	"github.com/Tyrowin/botchat/internal/chat"
	"github.com/Tyrowin/botchat/internal/config"
	"github.com/Tyrowin/botchat/internal/llm"
	"github.com/Tyrowin/botchat/internal/logger"
	"github.com/Tyrowin/botchat/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("botchat", pflag.ExitOnError)
	cfg.AddFlags(flags)
	_ = flags.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideHistory,
			chat.NewUserRegistry,
			server.NewHub,
			provideBot,
			provideSessionDeps,
			server.NewHandler,
			provideHTTPServer,
		),
		fx.Invoke(startChat),
		fx.StopTimeout(2*cfg.ShutdownTimeout+5*time.Second),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideLogger(cfg config.Config) *slog.Logger {
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)
	return log
}

func provideHistory(cfg config.Config, log *slog.Logger) *chat.HistoryStore {
	return chat.NewHistoryStore(cfg.HistoryFile,
		chat.WithCapacity(cfg.HistoryCap),
		chat.WithLogger(log),
	)
}

func provideBot(cfg config.Config, hub *server.Hub, log *slog.Logger) *bot.Agent {
	var client llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, &http.Client{Timeout: cfg.Bot.Timeout})
	} else {
		log.Warn("OPENAI_API_KEY is not set; bot replies are disabled")
	}

	return bot.New(bot.Config{
		UserID:        cfg.Bot.UserID,
		Nickname:      cfg.Bot.Nickname,
		Avatar:        cfg.Bot.Avatar,
		Timeout:       cfg.Bot.Timeout,
		MaxConcurrent: cfg.Bot.MaxConcurrent,
		ContextLimit:  cfg.Bot.ContextLimit,
	}, client, hub, log)
}

func provideSessionDeps(users *chat.UserRegistry, agent *bot.Agent) server.SessionDeps {
	return server.SessionDeps{Users: users, Bot: agent}
}

func provideHTTPServer(cfg config.Config, handler *server.Handler) *http.Server {
	return server.CreateServer(cfg.Addr, server.SetupRoutes(handler, cfg.StaticDir))
}

func startChat(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, history *chat.HistoryStore, hub *server.Hub, srv *http.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			history.Load()

			if server.StaticDirExists(cfg.StaticDir) {
				log.Info("serving web client", slog.String("dir", cfg.StaticDir))
			} else {
				log.Warn("web client directory not found; serving health page at /", slog.String("dir", cfg.StaticDir))
			}

			go hub.Run()
			go func() {
				if err := server.StartServer(srv, log); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if err := server.ShutdownServer(srv, cfg.ShutdownTimeout, log); err != nil {
				log.Warn("http server did not stop cleanly", slog.Any("error", err))
			}
			if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
				log.Warn("hub did not stop cleanly", slog.Any("error", err))
			}
			if err := history.Flush(); err != nil {
				log.Error("history flush failed", slog.String("path", history.Path()), slog.Any("error", err))
			}
			return nil
		},
	})
}
