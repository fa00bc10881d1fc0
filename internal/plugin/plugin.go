// Package plugin answers chat commands: Midjourney painting, SiliconFlow
// drawing, #ss chat and #gg search chat.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/command"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/gemini"
	"github.com/throw-if-null/easel/internal/job"
	"github.com/throw-if-null/easel/internal/keyring"
	"github.com/throw-if-null/easel/internal/llm"
	"github.com/throw-if-null/easel/internal/media"
	"github.com/throw-if-null/easel/internal/painting"
	"github.com/throw-if-null/easel/internal/reply"
	"github.com/throw-if-null/easel/internal/rewrite"
	"github.com/throw-if-null/easel/internal/siliconflow"
)

// Event is an incoming chat message. GroupID is zero for private chats.
type Event struct {
	MessageID  string
	UserID     int64
	GroupID    int64
	SelfID     int64
	SenderName string
	Text       string
	Images     []string
	// QuotedID is the message this one replies to, if any.
	QuotedID string
}

// Host delivers replies to the chat the event came from.
type Host interface {
	Send(ctx context.Context, ev Event, msg reply.Message) error
	SendForward(ctx context.Context, ev Event, f reply.Forward) error
	QuotedImages(ctx context.Context, messageID string) ([]string, error)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Drawer interface {
	Generate(ctx context.Context, key string, req api.ImageGenerationRequest) (*api.ImageGenerationResponse, error)
}

type Asker interface {
	Ask(ctx context.Context, question string, image []byte) (*gemini.Answer, error)
}

type Plugin struct {
	cfg    *config.Manager
	mj     *painting.Service
	runner *job.Runner
	host   Host
	log    logrus.FieldLogger

	sfKeys *keyring.Rotator
	ggKeys *keyring.ListRotator
	images ImageFetcher

	newDrawer    func(baseURL string) Drawer
	newCompleter func(llm.Config) rewrite.Completer
	newAsker     func(config.GeminiConfig, gemini.KeySource) Asker
}

type Option func(*Plugin)

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Plugin) { p.log = l }
}

func WithImageFetcher(f ImageFetcher) Option {
	return func(p *Plugin) { p.images = f }
}

func WithDrawer(fn func(baseURL string) Drawer) Option {
	return func(p *Plugin) { p.newDrawer = fn }
}

func WithCompleter(fn func(llm.Config) rewrite.Completer) Option {
	return func(p *Plugin) { p.newCompleter = fn }
}

func WithAsker(fn func(config.GeminiConfig, gemini.KeySource) Asker) Option {
	return func(p *Plugin) { p.newAsker = fn }
}

func New(cfg *config.Manager, mj *painting.Service, runner *job.Runner, host Host, opts ...Option) *Plugin {
	p := &Plugin{
		cfg:    cfg,
		mj:     mj,
		runner: runner,
		host:   host,
		log:    logrus.StandardLogger(),
		sfKeys: keyring.NewRotator(),
		ggKeys: keyring.NewListRotator(),
		images: media.NewFetcher(),
		newDrawer: func(baseURL string) Drawer {
			return siliconflow.New(baseURL)
		},
		newCompleter: func(c llm.Config) rewrite.Completer { return llm.New(c) },
		newAsker: func(c config.GeminiConfig, keys gemini.KeySource) Asker {
			return gemini.New(c, keys)
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle runs the command in ev, if any, and reports whether ev was a
// command. Failures are answered in chat and never returned.
func (p *Plugin) Handle(ctx context.Context, ev Event) bool {
	cmd, err := command.Parse(ev.Text)
	if errors.Is(err, command.ErrNotCommand) {
		return false
	}
	log := p.log.WithFields(logrus.Fields{"user_id": ev.UserID, "group_id": ev.GroupID, "command": cmd.Kind.String()})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("command handler panicked")
			p.say(ctx, ev, reply.ReplyFailed)
		}
	}()

	if errors.Is(err, command.ErrPositionRequired) {
		p.say(ctx, ev, reply.NeedPosition)
		return true
	}
	if cmd.MasterOnly() && !p.isMaster(ev.UserID) {
		log.Info("master-only command refused")
		p.say(ctx, ev, reply.MasterOnly)
		return true
	}
	log.Debug("handling command")

	switch cmd.Kind {
	case command.Imagine:
		p.imagine(ctx, ev, cmd, log)
	case command.Action:
		p.action(ctx, ev, cmd, log)
	case command.MJSetting:
		p.mjSetting(ctx, ev, cmd, log)
	case command.MJMode:
		p.mjMode(ctx, ev, cmd, log)
	case command.MJHelp:
		p.say(ctx, ev, MJHelp)
	case command.Draw:
		p.draw(ctx, ev, cmd, log)
	case command.SFSetting:
		p.sfSetting(ctx, ev, cmd, log)
	case command.SFHelp:
		p.say(ctx, ev, SFHelp)
	case command.Chat:
		p.chat(ctx, ev, cmd, log)
	case command.Gemini:
		p.ask(ctx, ev, cmd, log)
	}
	return true
}

func (p *Plugin) isMaster(userID int64) bool {
	return slices.Contains(p.cfg.Get().Bot.Masters, userID)
}

func (p *Plugin) send(ctx context.Context, ev Event, msg reply.Message) {
	if err := p.host.Send(ctx, ev, msg); err != nil {
		p.log.WithError(err).WithField("user_id", ev.UserID).Warn("send reply")
	}
}

func (p *Plugin) say(ctx context.Context, ev Event, text string) {
	p.send(ctx, ev, reply.TextMsg(text))
}

// sayQuoted answers text as a reply to ev's message.
func (p *Plugin) sayQuoted(ctx context.Context, ev Event, text string) {
	if ev.MessageID == "" {
		p.say(ctx, ev, text)
		return
	}
	p.send(ctx, ev, reply.Msg(reply.Quote(ev.MessageID), reply.Text(text)))
}

func (p *Plugin) forward(ctx context.Context, ev Event, f reply.Forward) error {
	err := p.host.SendForward(ctx, ev, f)
	if err != nil {
		p.log.WithError(err).WithField("user_id", ev.UserID).Warn("send forward")
	}
	return err
}

func (p *Plugin) sender(ev Event) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return fmt.Sprint(ev.UserID)
}

// sourceImage downloads the first image attached to or quoted by ev. It
// returns nil, nil when there is none.
func (p *Plugin) sourceImage(ctx context.Context, ev Event) ([]byte, error) {
	urls := ev.Images
	if len(urls) == 0 && ev.QuotedID != "" {
		quoted, err := p.host.QuotedImages(ctx, ev.QuotedID)
		if err != nil {
			p.log.WithError(err).WithField("message_id", ev.QuotedID).Warn("resolve quoted message")
		}
		urls = quoted
	}
	if len(urls) == 0 {
		return nil, nil
	}
	return p.images.Fetch(ctx, urls[0])
}
