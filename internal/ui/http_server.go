package ui

import (
	"context"
	"errors"
	"net/url"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/record"
	"irclog/internal/search"
	"irclog/internal/segments"
)

type SearchRequest struct {
	Pattern       string   `json:"pattern"`
	Regex         bool     `json:"regex"`
	CaseSensitive bool     `json:"case_sensitive"`
	WholeWord     bool     `json:"whole_word"`
	Nicks         []string `json:"nicks"`
	Channels      []string `json:"channels"`
	Since         string   `json:"since"`
	IgnoreSystem  bool     `json:"ignore_system"`
	IgnoreFromMe  bool     `json:"ignore_from_me"`
	// stop after that many messages, 0 is unlimited
	Limit int `json:"limit"`
}

func (r SearchRequest) Query() (search.Query, error) {
	q := search.Query{
		Pattern:       r.Pattern,
		Regex:         r.Regex,
		CaseSensitive: r.CaseSensitive,
		WholeWord:     r.WholeWord,
		Nicks:         r.Nicks,
		Channels:      r.Channels,
		IgnoreSystem:  r.IgnoreSystem,
		IgnoreFromMe:  r.IgnoreFromMe,
	}
	if r.Since != "" {
		since, err := parseTime(r.Since)
		if err != nil {
			return q, err
		}
		q.Since = &since
	}
	return q, nil
}

type hitView struct {
	messageView
	Matches [][2]int `json:"matches"`
}

type fileView struct {
	Channel string    `json:"channel"`
	Start   time.Time `json:"start"`
	Path    string    `json:"path"`
	Hits    []hitView `json:"hits"`
}

type SearchResponse struct {
	Files     []fileView `json:"files"`
	Messages  int        `json:"messages"`
	Scanned   int        `json:"scanned"`
	Truncated bool       `json:"truncated"`
}

// limitedCollector stops the scan once it holds enough messages.
type limitedCollector struct {
	search.Collector
	limit, taken int
	dropped      bool
	cancel       context.CancelFunc
}

func (l *limitedCollector) Match(seg segments.Segment, hit search.Hit) {
	if l.limit > 0 && l.taken >= l.limit {
		l.dropped = true
		l.cancel()
		return
	}
	l.taken++
	l.Collector.Match(seg, hit)
}

func errorStatus(err error) int {
	var pe *record.ParseError
	switch {
	case errors.Is(err, common.ErrConfiguration), errors.Is(err, record.ErrInvalidMessage):
		return fiber.StatusBadRequest
	case errors.As(err, &pe):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, common.ErrCancelled):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func NewHttpApp(ctx context.Context, app *App) *fiber.App {
	httpApp := fiber.New(
		fiber.Config{
			DisableStartupMessage: true,
		},
	)
	go func() {
		<-ctx.Done()
		_ = httpApp.Shutdown()
	}()

	httpApp.Use(recover.New())
	c := cors.ConfigDefault
	c.ExposeHeaders = "*"
	httpApp.Use(cors.New(c))
	httpApp.Use(compress.New(compress.Config{Level: compress.LevelBestCompression}))

	fail := func(c *fiber.Ctx, err error) error {
		status := errorStatus(err)
		if status == fiber.StatusInternalServerError {
			app.Logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		} else {
			app.Logger.Debug("request rejected", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	channelParam := func(c *fiber.Ctx) (string, error) {
		name, err := url.PathUnescape(c.Params("name"))
		if err != nil {
			return "", common.ConfigurationErr("channel name: %s", err)
		}
		return name, nil
	}

	httpApp.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := httpApp.Group("/api")
	api.Get(
		"/channels", func(c *fiber.Ctx) error {
			names, err := app.Account.Channels()
			if err != nil {
				return fail(c, err)
			}
			type channelView struct {
				Name     string `json:"name"`
				Kind     string `json:"kind"`
				Segments int    `json:"segments"`
			}
			views := make([]channelView, 0, len(names))
			for _, name := range names {
				ch, err := app.Account.Channel(name)
				if err != nil {
					return fail(c, err)
				}
				views = append(views, channelView{Name: name, Kind: ch.Kind().String(), Segments: len(ch.Segments())})
			}
			return c.JSON(views)
		},
	)
	api.Get(
		"/channels/:name/segments", func(c *fiber.Ctx) error {
			name, err := channelParam(c)
			if err != nil {
				return fail(c, err)
			}
			ch, err := app.Account.Channel(name)
			if err != nil {
				return fail(c, err)
			}
			type segmentView struct {
				Start  time.Time `json:"start"`
				Path   string    `json:"path"`
				Size   int64     `json:"size"`
				Active bool      `json:"active"`
			}
			segs := ch.Segments()
			views := make([]segmentView, 0, len(segs))
			for _, s := range segs {
				v := segmentView{Start: s.Start, Path: s.Path, Active: ch.Index().IsActive(s)}
				if info, err := os.Stat(s.Path); err == nil {
					v.Size = info.Size()
				}
				views = append(views, v)
			}
			return c.JSON(views)
		},
	)
	api.Post(
		"/channels/:name/messages", func(c *fiber.Ctx) error {
			var in MessageInput
			if err := c.BodyParser(&in); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
			}
			name, err := channelParam(c)
			if err != nil {
				return fail(c, err)
			}
			m, err := in.Message(time.Now())
			if err != nil {
				return fail(c, err)
			}
			res, err := app.Append(name, m, c.QueryBool("commit"))
			if err != nil {
				return fail(c, err)
			}
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{
				"segment": res.Segment.Path,
				"message": newMessageView(res.Message),
				"pending": res.Pending,
			})
		},
	)
	api.Post(
		"/search", func(c *fiber.Ctx) error {
			var req SearchRequest
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
			}
			q, err := req.Query()
			if err != nil {
				return fail(c, err)
			}

			searchCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			collector := &limitedCollector{limit: req.Limit, cancel: cancel}
			scanned := 0
			err = app.Search(searchCtx, q, collector, func(done, _ int) { scanned = done })
			truncated := collector.dropped
			if err != nil && !(truncated && errors.Is(err, common.ErrCancelled)) {
				return fail(c, err)
			}

			resp := SearchResponse{Files: []fileView{}, Scanned: scanned, Truncated: truncated}
			for _, r := range collector.Results() {
				if len(r.Hits) == 0 {
					continue
				}
				f := fileView{Channel: r.Segment.Channel, Start: r.Segment.Start, Path: r.Segment.Path}
				for _, h := range r.Hits {
					hv := hitView{messageView: newMessageView(h.Message)}
					for _, loc := range h.Matches {
						hv.Matches = append(hv.Matches, [2]int{loc.From, loc.Len()})
					}
					f.Hits = append(f.Hits, hv)
				}
				resp.Messages += len(f.Hits)
				resp.Files = append(resp.Files, f)
			}
			return c.JSON(resp)
		},
	)

	return httpApp
}
