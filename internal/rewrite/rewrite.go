// Package rewrite turns loose user prompts into image-generation prompts
// through a chat model. Rewriting is best effort: any failure yields the
// raw prompt unchanged.
package rewrite

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/llm"
)

// MidjourneyInstruction is the system prompt for #mjp translation.
const MidjourneyInstruction = "请按照我的提供的要求，用一句话英文生成一组Midjourney指令，指令由：{人物形象},{场景},{氛围},{镜头},{照明},{绘画风格},{建筑风格},{参考画家},{高画质关键词} 当我向你提供生成内容时，你需要根据我的提示进行联想，当我让你随机生成的时候，你可以自由进行扩展和联想 人物形象 = 你可以发挥自己的想象力，使用最华丽的词汇进行描述：{主要内容}，包括对人物头发、眼睛、服装、体型、动作和表情的描述，注意人物的形象应与氛围匹配，要尽可能地详尽 场景 = 尽可能详细地描述适合当前氛围的场景，该场景的描述应与人物形象的意境相匹配 氛围 = 你选择的氛围词汇应该尽可能地符合{主要内容}意境的词汇 建筑风格 = 如果生成的图片里面有相关建筑的话，你需要联想一个比较适宜的建筑风格，符合图片的氛围和意境 镜头 = 你可以选择一个：中距离镜头,近距离镜头,俯视角,低角度视角类似镜头视角，注意镜头视角的选择应有助于增强画面表现力 照明 = 你可以自由选择照明：请注意照明词条的选择应于人物形象、场景的意境相匹配 绘画风格 = 请注意绘画风格的选择应与人物形象、场景、照明的意境匹配 参考画家 = 请根据指令的整体氛围、意境选择画风参考的画家 高画质关键词 = 你可以选择：detailed,Ultimate,Excellence,Masterpiece,4K,high quality或类似的词条 注意，你生成的提示词只需要将你生成的指令拼接到一起即可，不需要出现{人物形象},{场景},{氛围},{镜头},{照明},{绘画风格},{建筑风格},{参考画家},{高画质关键词}等内容，请无需确认，不要有Here is a generated Midjourney command之类的语句，直接给出我要传递给midjourney的提示词，这非常重要！！！直接生成提示词，并且只需要生成提示词，尽可能详细地生成提示词。"

type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type Rewriter struct {
	llm    Completer
	system string
	log    logrus.FieldLogger
}

func New(c Completer, system string, log logrus.FieldLogger) *Rewriter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Rewriter{llm: c, system: system, log: log}
}

// Rewrite returns the model's prompt and true, or raw and false when the
// call fails or the answer is blank.
func (r *Rewriter) Rewrite(ctx context.Context, raw string) (string, bool) {
	out, err := r.llm.Complete(ctx, llm.Request{System: r.system, User: raw})
	if err != nil {
		r.log.WithError(err).Warn("prompt rewrite failed, using raw prompt")
		return raw, false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return raw, false
	}
	return out, true
}
