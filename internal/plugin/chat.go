package plugin

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/command"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/llm"
	"github.com/throw-if-null/easel/internal/media"
	"github.com/throw-if-null/easel/internal/reply"
)

// chat answers #ss through an OpenAI-compatible endpoint. A configured chat
// base url wins over the SiliconFlow base and its rotated keys.
func (p *Plugin) chat(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	all := p.cfg.Get()
	sf := all.SiliconFlow

	lc := llm.Config{BaseURL: sf.Chat.BaseURL, APIKey: sf.Chat.APIKey, Model: sf.Chat.Model}
	if lc.BaseURL != "" {
		if lc.Model == "" {
			lc.Model = config.DefaultChatModel
		}
	} else {
		cred, ok := p.sfKeys.Next(sf.Keys)
		if !ok {
			p.say(ctx, ev, reply.ChatKeyMissing)
			return
		}
		lc = llm.Config{BaseURL: sf.BaseURL, APIKey: cred.Key, Model: sf.TranslateModel}
	}

	img, err := p.sourceImage(ctx, ev)
	if err != nil {
		log.WithError(err).Warn("fetch quoted image")
		p.sayQuoted(ctx, ev, reply.ImageExpired)
		return
	}
	req := llm.Request{System: sf.Chat.Prompt, User: cmd.Prompt}
	if req.System == "" {
		req.System = config.DefaultChatPrompt
	}
	if img != nil {
		req.ImageDataURL = media.DataURL("image/jpeg", img)
	}

	answer, err := p.newCompleter(lc).Complete(ctx, req)
	if err != nil {
		log.WithError(err).Error("chat completion")
		answer = reply.ChatFailed
	}

	msg, fwd := reply.ChatMessages(answer, cmd.Prompt, p.sender(ev), all.Bot.Nickname, ev.SelfID, sf.Chat.UseForward)
	p.deliver(ctx, ev, msg, fwd)
}

// ask answers #gg with a search-grounded Gemini model.
func (p *Plugin) ask(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	all := p.cfg.Get()

	img, err := p.sourceImage(ctx, ev)
	if err != nil {
		log.WithError(err).Warn("fetch quoted image")
		p.sayQuoted(ctx, ev, reply.ImageExpired)
		return
	}

	var sources []reply.Source
	answer := reply.GeminiFailed
	ans, err := p.newAsker(all.Gemini, p.ggKeys).Ask(ctx, cmd.Prompt, img)
	if err != nil {
		log.WithError(err).Error("gemini answer")
	} else {
		answer = ans.Text
		for _, s := range ans.Sources {
			sources = append(sources, reply.Source{Title: s.Title, URL: s.URL})
		}
		log.WithField("sources", len(sources)).Debug("gemini answered")
	}

	msg, fwd := reply.GeminiMessages(answer, sources, p.sender(ev), all.Bot.Nickname, ev.SelfID, all.Gemini.UseForward)
	p.deliver(ctx, ev, msg, fwd)
}

// deliver sends the direct answer quoted, then the bundle. A failed send
// is reported once in chat.
func (p *Plugin) deliver(ctx context.Context, ev Event, msg reply.Message, fwd *reply.Forward) {
	if msg != nil {
		if ev.MessageID != "" {
			msg = append(reply.Msg(reply.Quote(ev.MessageID)), msg...)
		}
		if err := p.host.Send(ctx, ev, msg); err != nil {
			p.log.WithError(err).Warn("send answer")
			p.say(ctx, ev, reply.ReplyFailed)
			return
		}
	}
	if fwd != nil {
		if err := p.forward(ctx, ev, *fwd); err != nil {
			p.say(ctx, ev, reply.ReplyFailed)
		}
	}
}
