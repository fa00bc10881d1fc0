// Package command turns chat text into typed commands so handlers never
// look at raw patterns.
package command

import (
	"errors"
	"regexp"
	"strings"

	"github.com/throw-if-null/easel/internal/api"
)

type Kind int

const (
	Unknown Kind = iota
	Imagine
	Action
	MJSetting
	MJMode
	MJHelp
	Draw
	SFSetting
	SFHelp
	Chat
	Gemini
)

func (k Kind) String() string {
	switch k {
	case Imagine:
		return "imagine"
	case Action:
		return "action"
	case MJSetting:
		return "mj_setting"
	case MJMode:
		return "mj_mode"
	case MJHelp:
		return "mj_help"
	case Draw:
		return "draw"
	case SFSetting:
		return "sf_setting"
	case SFHelp:
		return "sf_help"
	case Chat:
		return "chat"
	case Gemini:
		return "gemini"
	default:
		return "unknown"
	}
}

var (
	ErrNotCommand       = errors.New("not a command")
	ErrPositionRequired = errors.New("position required")
)

type Command struct {
	Kind Kind

	// Imagine
	Bot api.BotType
	// Imagine, Draw, Chat, Gemini: the text after the trigger.
	Prompt string

	// Action
	Action        api.ActionKind
	ActionLabel   string
	PositionLabel string
	TaskID        string

	// MJSetting, SFSetting
	Setting string
	Value   string

	// MJMode
	Mode string
}

// MasterOnly reports whether the command changes bot settings.
func (c Command) MasterOnly() bool {
	switch c.Kind {
	case MJSetting, MJMode, SFSetting, SFHelp:
		return true
	}
	return false
}

var (
	imagineRe   = regexp.MustCompile(`^#(mjp|niji)\s(.+)$`)
	actionRe    = regexp.MustCompile(`^#(放大|微调|重绘)(左上|右上|左下|右下)?\s*(.*)$`)
	mjSettingRe = regexp.MustCompile(`(?i)^#mjp设置(apikey|apibaseurl|翻译key|翻译baseurl|翻译模型|翻译开关)\s+(.+)$`)
	mjModeRe    = regexp.MustCompile(`^#mjp开启(快速|慢速)模式$`)
	mjHelpRe    = regexp.MustCompile(`^#mjp帮助$`)
	drawRe      = regexp.MustCompile(`^#(flux|FLUX|(sf|SF)(画图|绘图|绘画))`)
	sfHelpRe    = regexp.MustCompile(`^#(sf|SF|siliconflow|硅基流动)设置帮助$`)
	sfSettingRe = regexp.MustCompile(`^#(sf|SF|siliconflow|硅基流动)设置(画图key|翻译key|翻译baseurl|翻译模型|生成提示词|推理步数|ss图片模式|ggkey|ggbaseurl|gg图片模式)\s*([\s\S]*)$`)
	chatRe      = regexp.MustCompile(`^#(ss|SS)`)
	geminiRe    = regexp.MustCompile(`^#(gg|GG)`)
)

var actionKinds = map[string]api.ActionKind{
	"放大": api.ActionUpscale,
	"微调": api.ActionVariation,
	"重绘": api.ActionReroll,
}

// Parse classifies text. It returns ErrNotCommand for ordinary chat and
// ErrPositionRequired for upscale or variation without a quadrant.
func Parse(text string) (Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "#") {
		return Command{}, ErrNotCommand
	}

	if m := imagineRe.FindStringSubmatch(text); m != nil {
		bot := api.BotMidjourney
		if m[1] == "niji" {
			bot = api.BotNiji
		}
		return Command{Kind: Imagine, Bot: bot, Prompt: strings.TrimSpace(m[2])}, nil
	}
	if m := mjSettingRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: MJSetting, Setting: strings.ToLower(m[1]), Value: strings.TrimSpace(m[2])}, nil
	}
	if m := mjModeRe.FindStringSubmatch(text); m != nil {
		mode := "slow"
		if m[1] == "快速" {
			mode = "fast"
		}
		return Command{Kind: MJMode, Mode: mode}, nil
	}
	if mjHelpRe.MatchString(text) {
		return Command{Kind: MJHelp}, nil
	}
	if m := actionRe.FindStringSubmatch(text); m != nil {
		c := Command{
			Kind:          Action,
			Action:        actionKinds[m[1]],
			ActionLabel:   m[1],
			PositionLabel: m[2],
			TaskID:        strings.TrimSpace(m[3]),
		}
		if c.PositionLabel == "" && c.Action != api.ActionReroll {
			return c, ErrPositionRequired
		}
		return c, nil
	}
	if sfHelpRe.MatchString(text) {
		return Command{Kind: SFHelp}, nil
	}
	if m := sfSettingRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: SFSetting, Setting: m[2], Value: strings.TrimSpace(m[3])}, nil
	}
	if loc := drawRe.FindStringIndex(text); loc != nil {
		return Command{Kind: Draw, Prompt: strings.TrimSpace(text[loc[1]:])}, nil
	}
	if loc := chatRe.FindStringIndex(text); loc != nil {
		return Command{Kind: Chat, Prompt: strings.TrimSpace(text[loc[1]:])}, nil
	}
	if loc := geminiRe.FindStringIndex(text); loc != nil {
		return Command{Kind: Gemini, Prompt: strings.TrimSpace(text[loc[1]:])}, nil
	}
	return Command{}, ErrNotCommand
}
