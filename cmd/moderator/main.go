package main

import (
	"fmt"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"

	"github.com/whisper/guardbot/internal/escalation"
	"github.com/whisper/guardbot/internal/history"
	"github.com/whisper/guardbot/internal/permission"
	"github.com/whisper/guardbot/internal/ratelimit"
	"github.com/whisper/guardbot/internal/telegram"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "moderator",
		Usage: "Telegram group moderation bot",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "json for production logs, anything else for console output",
			Value:   "console",
			EnvVars: []string{"LOG_FORMAT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		configureLogging(cctx.String("log-level"), cctx.String("log-format"))
		return nil
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkWordsCmd,
		tailActionsCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the bot",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "telegram-token",
			Usage:    "Bot API token",
			Required: true,
			EnvVars:  []string{"TELEGRAM_BOT_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "word-list",
			Usage:   "path of an extra abuse word list, one term per line",
			Value:   "abuse_words.txt",
			EnvVars: []string{"WORD_LIST_PATH"},
		},
		&cli.StringSliceFlag{
			Name:    "allowed-domains",
			Usage:   "domains links may point to (subdomains included)",
			EnvVars: []string{"ALLOWED_DOMAINS"},
		},
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "address of the /health and /metrics endpoints",
			Value:   ":8080",
			EnvVars: []string{"HEALTH_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis for ledger snapshots and notice flood control (optional)",
			EnvVars: []string{"REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS for the moderation action feed (optional)",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL for the incident log (optional)",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "history-size",
			Usage:   "messages remembered per user per chat",
			Value:   history.DefaultCapacity,
			EnvVars: []string{"HISTORY_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "permission-ttl",
			Usage:   "how long the bot's rights in a chat are cached",
			Value:   permission.DefaultTTL,
			EnvVars: []string{"PERMISSION_TTL"},
		},
		&cli.DurationFlag{
			Name:    "decay-window",
			Usage:   "violation counts reset after this long without a new violation",
			Value:   escalation.DefaultDecayWindow,
			EnvVars: []string{"DECAY_WINDOW"},
		},
		&cli.DurationFlag{
			Name:    "decay-interval",
			Usage:   "how often the decay sweep runs",
			Value:   escalation.DefaultDecayInterval,
			EnvVars: []string{"DECAY_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "notice-limit",
			Usage:   "max warning notices per chat per notice window (needs redis)",
			Value:   ratelimit.RuleNotice.Limit,
			EnvVars: []string{"NOTICE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "notice-window",
			Value:   ratelimit.RuleNotice.Window,
			EnvVars: []string{"NOTICE_WINDOW"},
		},
		&cli.Float64Flag{
			Name:    "send-rate",
			Usage:   "max Bot API requests per second",
			Value:   telegram.DefaultSettings().SendRate,
			EnvVars: []string{"SEND_RATE"},
		},
	},
	Action: runBot,
}

var checkWordsCmd = &cli.Command{
	Name:      "check-words",
	Usage:     "validate a word list file and report skipped lines",
	ArgsUsage: "<path>",
	Action: func(cctx *cli.Context) error {
		path := cctx.Args().First()
		if path == "" {
			return fmt.Errorf("word list path required")
		}
		return checkWords(cctx.App.Writer, path)
	},
}

var tailActionsCmd = &cli.Command{
	Name:  "tail-actions",
	Usage: "print moderation actions published on NATS",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "nats-url",
			Value:   "nats://localhost:4222",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.DurationFlag{
			Name:  "for",
			Usage: "stop after this long (0 runs until interrupted)",
		},
	},
	Action: func(cctx *cli.Context) error {
		return tailActions(cctx.Context, cctx.App.Writer, cctx.String("nats-url"), cctx.Duration("for"))
	},
}

// shutdownTimeout bounds the cleanup after a signal.
const shutdownTimeout = 10 * time.Second
