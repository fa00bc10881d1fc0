package plugin

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/command"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/midjourney"
	"github.com/throw-if-null/easel/internal/painting"
	"github.com/throw-if-null/easel/internal/paths"
	"github.com/throw-if-null/easel/internal/reply"
)

func (p *Plugin) imagine(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	if !p.mj.Configured() {
		p.say(ctx, ev, reply.MJConfigMissing)
		return
	}
	p.say(ctx, ev, reply.ImagineStarted)

	prompt := cmd.Prompt
	if out, ok := p.mj.Translate(ctx, prompt); ok {
		prompt = out
		p.say(ctx, ev, reply.Translated(prompt))
	}

	uid := strconv.FormatInt(ev.UserID, 10)
	h, err := p.mj.StartImagine(ctx, uid, prompt, cmd.Bot)
	if err != nil {
		log.WithError(err).Error("start imagine job")
		p.say(ctx, ev, imagineErrorText(err))
		return
	}
	res, err := h.Wait(ctx)
	if err != nil {
		log.WithError(err).WithField("job_id", h.ID).Warn("imagine failed")
		p.say(ctx, ev, imagineErrorText(err))
		return
	}
	p.say(ctx, ev, reply.ImagineDone(prompt, res.BackendTaskID, res.ImageURL))
	p.send(ctx, ev, reply.Msg(reply.Image(res.ImageURL)))
}

func imagineErrorText(err error) string {
	switch {
	case errors.Is(err, midjourney.ErrConfigMissing):
		return reply.MJConfigMissing
	case errors.Is(err, midjourney.ErrSubmission):
		return reply.SubmitFailed
	case errors.Is(err, midjourney.ErrTaskFailed), errors.Is(err, midjourney.ErrPollTimeout):
		return reply.ImagineFailed
	default:
		return reply.ImagineError
	}
}

func (p *Plugin) action(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	if !p.mj.Configured() {
		p.say(ctx, ev, reply.MJConfigMissing)
		return
	}
	uid := strconv.FormatInt(ev.UserID, 10)
	src, err := p.mj.ResolveSource(ctx, uid, cmd.TaskID)
	if errors.Is(err, paths.ErrInvalidID) {
		p.say(ctx, ev, reply.BadTaskID)
		return
	}
	if err != nil {
		if !errors.Is(err, painting.ErrNoLastTask) {
			log.WithError(err).Warn("read last task")
		}
		p.say(ctx, ev, reply.NeedTaskID)
		return
	}

	req := api.ActionRequest{Action: cmd.Action, SourceTaskID: src}
	if cmd.PositionLabel != "" {
		if req.Position, err = midjourney.ParsePosition(cmd.PositionLabel); err != nil {
			p.say(ctx, ev, reply.NeedPosition)
			return
		}
	}
	p.say(ctx, ev, reply.ActionStarted)

	h, err := p.mj.StartAction(ctx, uid, req)
	if err != nil {
		log.WithError(err).Error("start action job")
		p.say(ctx, ev, actionErrorText(err))
		return
	}
	res, err := h.Wait(ctx)
	if err != nil {
		log.WithError(err).WithField("job_id", h.ID).Warn("action failed")
		p.say(ctx, ev, actionErrorText(err))
		return
	}
	p.say(ctx, ev, reply.ActionDone(cmd.ActionLabel, cmd.PositionLabel, res.BackendTaskID, res.ImageURL))
	p.send(ctx, ev, reply.Msg(reply.Image(res.ImageURL)))
}

func actionErrorText(err error) string {
	switch {
	case errors.Is(err, midjourney.ErrConfigMissing):
		return reply.MJConfigMissing
	case errors.Is(err, midjourney.ErrSourceFetch), errors.Is(err, midjourney.ErrMissingMessageHash):
		return reply.SourceFetchBad
	case errors.Is(err, midjourney.ErrSubmission):
		return reply.ActionSubmitBad
	case errors.Is(err, midjourney.ErrTaskFailed), errors.Is(err, midjourney.ErrPollTimeout):
		return reply.ActionFailed
	default:
		return reply.ActionError
	}
}

func (p *Plugin) mjSetting(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	v := strings.TrimSpace(cmd.Value)
	err := p.cfg.Update(func(c *config.Config) {
		mj := &c.Midjourney
		switch cmd.Setting {
		case "apikey":
			mj.APIKey = v
		case "apibaseurl":
			mj.APIBaseURL = strings.TrimSuffix(v, "/")
		case "翻译key":
			mj.Translation.APIKey = v
		case "翻译baseurl":
			mj.Translation.BaseURL = strings.TrimSuffix(v, "/")
		case "翻译模型":
			mj.Translation.Model = v
		case "翻译开关":
			mj.Translation.Enabled = strings.ToLower(v) == "开"
		}
	})
	if err != nil {
		log.WithError(err).Error("save midjourney setting")
		p.say(ctx, ev, reply.SettingFailed)
		return
	}
	log.WithField("setting", cmd.Setting).Info("midjourney setting updated")
	p.say(ctx, ev, reply.MJSettingSaved(cmd.Setting))
}

func (p *Plugin) mjMode(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	if err := p.cfg.Update(func(c *config.Config) { c.Midjourney.Mode = cmd.Mode }); err != nil {
		log.WithError(err).Error("save midjourney mode")
		p.say(ctx, ev, reply.SettingFailed)
		return
	}
	p.say(ctx, ev, reply.ModeSwitched(cmd.Mode))
}
