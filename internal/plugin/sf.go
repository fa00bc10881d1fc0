package plugin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/command"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/job"
	"github.com/throw-if-null/easel/internal/llm"
	"github.com/throw-if-null/easel/internal/media"
	"github.com/throw-if-null/easel/internal/reply"
	"github.com/throw-if-null/easel/internal/rewrite"
	"github.com/throw-if-null/easel/internal/siliconflow"
)

func (p *Plugin) draw(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	all := p.cfg.Get()
	cfg := all.SiliconFlow
	if len(cfg.Keys) == 0 {
		p.say(ctx, ev, reply.SFKeyMissing)
		return
	}

	params, err := command.ParseDrawParams(cmd.Prompt, command.DrawParams{
		Model:  cfg.ImageModel,
		Steps:  cfg.InferenceSteps,
		Width:  cfg.Width,
		Height: cfg.Height,
	})
	if err != nil {
		p.sayQuoted(ctx, ev, "参数错误："+err.Error())
		return
	}

	img2img := siliconflow.SupportsImg2Img(params.Model)
	var source string
	if img2img {
		b, err := p.sourceImage(ctx, ev)
		switch {
		case err != nil:
			log.WithError(err).Warn("fetch source image")
			p.sayQuoted(ctx, ev, reply.ImageExpired)
			return
		case b == nil:
			img2img = false
		default:
			source = media.DataURL("image/png", b)
		}
	}

	cred, ok := p.sfKeys.Next(cfg.Keys)
	if !ok {
		p.say(ctx, ev, reply.SFKeyMissing)
		return
	}

	final := params.Input
	announced := cfg.SimpleMode
	if cfg.GeneratePrompt {
		if !announced {
			p.say(ctx, ev, reply.DrawStarted(p.sender(ev), ev.UserID, true))
			announced = true
		}
		c := p.newCompleter(llm.Config{BaseURL: cfg.BaseURL, APIKey: cred.Key, Model: cfg.TranslateModel})
		final, _ = rewrite.New(c, cfg.TextToPaintPrompt, log).Rewrite(ctx, params.Input)
		if strings.TrimSpace(final) == "" {
			p.say(ctx, ev, reply.PromptGenFailed)
			return
		}
	}
	if !announced {
		p.say(ctx, ev, reply.DrawStarted(p.sender(ev), ev.UserID, false))
	}

	req := api.ImageGenerationRequest{
		Prompt:            final,
		Model:             params.Model,
		NumInferenceSteps: params.Steps,
		ImageSize:         params.Size(),
		Image:             source,
		Seed:              params.Seed,
		NegativePrompt:    params.Negative,
	}
	drawer := p.newDrawer(cfg.BaseURL)
	js := job.Spec{UserID: strconv.FormatInt(ev.UserID, 10), Kind: api.JobDraw, Prompt: final}
	h, err := p.runner.Start(ctx, js, func(ctx context.Context, _ *job.Handle) (*job.Result, error) {
		resp, err := drawer.Generate(ctx, cred.Key, req)
		if err != nil {
			return nil, err
		}
		return &job.Result{ImageURL: resp.Images[0].URL, Extra: resp}, nil
	})
	if err != nil {
		log.WithError(err).Error("start draw job")
		p.say(ctx, ev, reply.ImagineError)
		return
	}
	res, err := h.Wait(ctx)
	if err != nil {
		log.WithError(err).WithField("job_id", h.ID).Warn("draw failed")
		var apiErr *siliconflow.APIError
		if errors.As(err, &apiErr) {
			p.say(ctx, ev, reply.DrawFailed(apiErr.Message))
		} else {
			p.say(ctx, ev, reply.ImagineError)
		}
		return
	}

	resp := res.Extra.(*api.ImageGenerationResponse)
	fwd, img := reply.DrawMessages(reply.DrawResult{
		SenderName:   p.sender(ev),
		UserID:       ev.UserID,
		Img2Img:      img2img,
		UserPrompt:   params.Input,
		FinalPrompt:  final,
		Negative:     params.Negative,
		Model:        params.Model,
		Steps:        params.Steps,
		Size:         params.Size(),
		InferenceSec: resp.Timings.Inference,
		Seed:         resp.Seed,
		ImageURL:     res.ImageURL,
	}, all.Bot.Nickname, ev.SelfID, cfg.SimpleMode)
	_ = p.forward(ctx, ev, fwd)
	if img != nil {
		p.send(ctx, ev, img)
	}
}

func (p *Plugin) sfSetting(ctx context.Context, ev Event, cmd command.Command, log logrus.FieldLogger) {
	v := strings.TrimSpace(cmd.Value)
	on := v == "开"
	var steps int
	if cmd.Setting == "推理步数" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			p.say(ctx, ev, "推理步数需要是正整数")
			return
		}
		steps = n
	}
	if v == "" && cmd.Setting != "生成提示词" && !strings.HasSuffix(cmd.Setting, "图片模式") {
		p.say(ctx, ev, fmt.Sprintf("请提供%s的值", cmd.Setting))
		return
	}

	err := p.cfg.Update(func(c *config.Config) {
		sf := &c.SiliconFlow
		switch cmd.Setting {
		case "画图key":
			sf.Keys = append(sf.Keys, config.Credential{Key: v})
		case "翻译key":
			sf.Chat.APIKey = v
		case "翻译baseurl":
			sf.Chat.BaseURL = strings.TrimSuffix(v, "/")
		case "翻译模型":
			sf.TranslateModel = v
		case "生成提示词":
			sf.GeneratePrompt = on
		case "推理步数":
			sf.InferenceSteps = steps
		case "ss图片模式":
			sf.Chat.UseForward = on
		case "ggkey":
			c.Gemini.Keys = v
		case "ggbaseurl":
			c.Gemini.BaseURL = strings.TrimSuffix(v, "/")
		case "gg图片模式":
			c.Gemini.UseForward = on
		}
	})
	if err != nil {
		log.WithError(err).Error("save siliconflow setting")
		p.say(ctx, ev, reply.SettingFailed)
		return
	}
	log.WithField("setting", cmd.Setting).Info("siliconflow setting updated")
	p.say(ctx, ev, reply.SFSettingSaved(cmd.Setting, displayValue(cmd.Setting, v)))
}

// displayValue masks secrets echoed back into the chat.
func displayValue(setting, v string) string {
	if !strings.HasSuffix(strings.ToLower(setting), "key") {
		return v
	}
	r := []rune(v)
	if len(r) <= 6 {
		return "******"
	}
	return string(r[:4]) + "******"
}
