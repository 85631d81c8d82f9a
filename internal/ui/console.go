package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"irclog/internal/search"
	"irclog/internal/segments"
)

func overrideConfig(cfg Config, cmd *cli.Command) Config {
	if cmd.String("LogsRoot") != "" {
		cfg.LogsRoot = cmd.String("LogsRoot")
	}
	if cmd.String("Account") != "" {
		cfg.Account = cmd.String("Account")
	}
	if cmd.Int("Concurrency") != 0 {
		cfg.Concurrency = int(cmd.Int("Concurrency"))
	}
	if cmd.Int("CacheSegments") != 0 {
		cfg.CacheSegments = int(cmd.Int("CacheSegments"))
	}
	if cmd.String("HttpAddr") != "" {
		cfg.HttpAddr = cmd.String("HttpAddr")
	}
	if cmd.Int("CommitIntervalSec") != 0 {
		cfg.CommitIntervalSec = int(cmd.Int("CommitIntervalSec"))
	}
	if cmd.String("Env") != "" {
		cfg.Env = cmd.String("Env")
	}

	return cfg
}

// consoleSink prints hits as they are found.
type consoleSink struct {
	out      io.Writer
	files    bool // print segment paths only
	messages int
}

func (s *consoleSink) SegmentAdmitted(segments.Segment) {}

func (s *consoleSink) Match(seg segments.Segment, hit search.Hit) {
	s.messages++
	if s.files {
		return
	}
	m := hit.Message
	var text strings.Builder
	last := 0
	for _, loc := range hit.Matches {
		text.WriteString(m.Text[last:loc.From])
		if loc.Len() > 0 {
			text.WriteString("[" + loc.Slice(m.Text) + "]")
		}
		last = loc.To
	}
	text.WriteString(m.Text[last:])

	nick := m.Nick()
	if nick == "" {
		nick = "*"
	}
	_, _ = fmt.Fprintf(s.out, "%s %s <%s> %s\n", seg.Channel, m.Time.Format(time.DateTime), nick, text.String())
}

func (s *consoleSink) SegmentDone(seg segments.Segment) {}

// fileSink prints the segments holding at least one hit.
type fileSink struct {
	consoleSink
	hit bool
}

func (s *fileSink) SegmentAdmitted(segments.Segment) { s.hit = false }

func (s *fileSink) Match(seg segments.Segment, hit search.Hit) {
	s.consoleSink.Match(seg, hit)
	s.hit = true
}

func (s *fileSink) SegmentDone(seg segments.Segment) {
	if s.hit {
		_, _ = fmt.Fprintln(s.out, seg.Path)
	}
}

// NewConsole builds the command line; out receives what commands print.
func NewConsole(logger *zap.Logger, out io.Writer) *cli.Command {
	prepareCfg := func(cmd *cli.Command) (Config, error) {
		cfg, err := LoadConfig()
		if errors.Is(err, errNoConfigFile) {
			logger.Debug("No config file found, using default config")
		} else if err != nil {
			return cfg, err
		}
		logger.Debug("Loaded config", zap.Any("config", cfg))
		cfg = overrideConfig(cfg, cmd)
		return cfg, cfg.Validate()
	}

	prepareApp := func(cmd *cli.Command) (*App, error) {
		cfg, err := prepareCfg(cmd)
		if err != nil {
			return nil, err
		}
		return NewApp(cfg, logger)
	}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "LogsRoot",
			Aliases: []string{"root"},
			Usage:   "where the account directories live (relative to cwd supported)",
		},
		&cli.StringFlag{
			Name:    "Account",
			Aliases: []string{"account"},
			Usage:   "account label, its channels are stored in \"<account>-channels\"",
		},
		&cli.IntFlag{
			Name:    "Concurrency",
			Aliases: []string{"c"},
			Usage:   "how many segments a search decodes at once",
		},
		&cli.IntFlag{
			Name:    "CacheSegments",
			Aliases: []string{"cache"},
			Usage:   "decoded segments kept in memory between searches",
		},
		&cli.StringFlag{
			Name:    "HttpAddr",
			Aliases: []string{"addr"},
			Usage:   "where the HTTP API listens",
		},
		&cli.IntFlag{
			Name:    "CommitIntervalSec",
			Aliases: []string{"commit"},
			Usage:   "how often the server writes pending messages (seconds)",
		},
		&cli.StringFlag{
			Name:  "Env",
			Usage: "logging preset: prod or dev",
		},
	}

	with := func(extra ...cli.Flag) []cli.Flag {
		return append(append([]cli.Flag{}, flags...), extra...)
	}

	cmd := &cli.Command{
		Name:  "irclog",
		Usage: "chat history segments and their search",
		Commands: []*cli.Command{
			{
				Name:        "gen",
				Flags:       flags,
				Description: "Generates config to stdOut.",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg := overrideConfig(DefaultCfg, cmd)
					err := cfg.Validate()
					if err != nil {
						return err
					}
					yamlData, err := yaml.Marshal(&cfg)
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(out, string(yamlData))
					return err
				},
			},
			{
				Name:        "append",
				Flags:       with(appendFlags...),
				ArgsUsage:   "<text>",
				Description: "Appends one message to the active segment of a channel and commits it.",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					app, err := prepareApp(cmd)
					if err != nil {
						return err
					}
					in := MessageInput{
						Sender: cmd.String("sender"),
						Text:   strings.Join(cmd.Args().Slice(), " "),
						Type:   cmd.String("type"),
						Color:  int(cmd.Int("color")),
						MyNick: cmd.String("me"),
						Time:   cmd.String("time"),
					}
					m, err := in.Message(time.Now())
					if err != nil {
						return err
					}
					res, err := app.Append(cmd.String("channel"), m, true)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(out, "%s @%d\n", res.Segment.Path, res.Message.RecordOffset)
					return err
				},
			},
			{
				Name:        "search",
				Flags:       with(searchFlags...),
				ArgsUsage:   "[pattern]",
				Description: "Scans the segments of the account and prints matching messages.",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					app, err := prepareApp(cmd)
					if err != nil {
						return err
					}
					q := search.Query{
						Pattern:       strings.Join(cmd.Args().Slice(), " "),
						Regex:         cmd.Bool("regex"),
						CaseSensitive: cmd.Bool("case"),
						WholeWord:     cmd.Bool("word"),
						Nicks:         cmd.StringSlice("nick"),
						Channels:      cmd.StringSlice("channel"),
						IgnoreSystem:  cmd.Bool("ignore-system"),
						IgnoreFromMe:  cmd.Bool("ignore-me"),
					}
					if since := cmd.String("since"); since != "" {
						t, err := parseTime(since)
						if err != nil {
							return err
						}
						q.Since = &t
					}

					var consumer search.Consumer
					sink := consoleSink{out: out}
					if cmd.Bool("files") {
						sink.files = true
						fs := &fileSink{consoleSink: sink}
						consumer = fs
						defer func() { logger.Debug("search finished", zap.Int("messages", fs.messages)) }()
					} else {
						consumer = &sink
						defer func() { logger.Debug("search finished", zap.Int("messages", sink.messages)) }()
					}

					return app.Search(ctx, q, consumer, func(scanned, total int) {
						logger.Debug("search progress", zap.Int("scanned", scanned), zap.Int("total", total))
					})
				},
			},
			{
				Name:        "segments",
				Flags:       flags,
				ArgsUsage:   "[channel...]",
				Description: "Lists the segments of the account channels.",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					app, err := prepareApp(cmd)
					if err != nil {
						return err
					}
					scope, err := app.Account.Scope(cmd.Args().Slice()...)
					if err != nil {
						return err
					}
					for _, s := range scope {
						if _, err = fmt.Fprintf(out, "%s\t%s\t%s\n", s.Channel, s.Start.Format(time.RFC3339), s.Path); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:        "serve",
				Flags:       flags,
				Description: "Serves the HTTP API, committing appended messages periodically.",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					app, err := prepareApp(cmd)
					if err != nil {
						return err
					}
					return app.Serve(ctx)
				},
			},
		},
	}

	return cmd
}

var appendFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "channel",
		Usage:    "channel to log to, group channels start with #",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "sender",
		Usage: "nick!user@host of the author, omit for system messages",
	},
	&cli.StringFlag{
		Name:  "type",
		Usage: "CHAT, SYSTEM, NOTIFICATION or ERROR",
		Value: "CHAT",
	},
	&cli.IntFlag{
		Name:  "color",
		Usage: "color index of the author, -1 for own messages",
	},
	&cli.StringFlag{
		Name:  "me",
		Usage: "own nick at the time of the message",
	},
	&cli.StringFlag{
		Name:  "time",
		Usage: "arrival time, defaults to now",
	},
}

var searchFlags = []cli.Flag{
	&cli.BoolFlag{Name: "regex", Aliases: []string{"e"}, Usage: "the pattern is a regular expression"},
	&cli.BoolFlag{Name: "case", Aliases: []string{"s"}, Usage: "case sensitive matching"},
	&cli.BoolFlag{Name: "word", Aliases: []string{"w"}, Usage: "match whole words only (not with --regex)"},
	&cli.StringSliceFlag{Name: "nick", Usage: "keep messages of nicks starting with this prefix"},
	&cli.StringSliceFlag{Name: "channel", Usage: "keep channels matching this glob"},
	&cli.StringFlag{Name: "since", Usage: "drop messages older than this time"},
	&cli.BoolFlag{Name: "ignore-system", Usage: "skip system messages"},
	&cli.BoolFlag{Name: "ignore-me", Usage: "skip own messages"},
	&cli.BoolFlag{Name: "files", Aliases: []string{"l"}, Usage: "print matching segment paths only"},
}
