// Package reply builds the chat messages sent back to users.
package reply

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one OneBot v11 message segment.
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type Message []Segment

func Text(s string) Segment {
	return Segment{Type: "text", Data: map[string]string{"text": s}}
}

func Image(url string) Segment {
	return Segment{Type: "image", Data: map[string]string{"file": url}}
}

func At(userID int64) Segment {
	return Segment{Type: "at", Data: map[string]string{"qq": strconv.FormatInt(userID, 10)}}
}

// Quote references the message being answered.
func Quote(messageID string) Segment {
	return Segment{Type: "reply", Data: map[string]string{"id": messageID}}
}

// PlainText joins the text segments of m.
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, s := range m {
		if s.Type == "text" {
			sb.WriteString(s.Data["text"])
		}
	}
	return sb.String()
}

// Node is one entry of a forwarded bundle.
type Node struct {
	Name    string
	UIN     int64
	Content Message
}

type Forward struct {
	Nodes   []Node
	Summary string
}

// NewForward wraps each item as a node authored by name/uin.
func NewForward(name string, uin int64, summary string, items ...Message) Forward {
	f := Forward{Summary: summary}
	for _, it := range items {
		f.Nodes = append(f.Nodes, Node{Name: name, UIN: uin, Content: it})
	}
	return f
}

func Msg(segs ...Segment) Message { return Message(segs) }

func TextMsg(s string) Message { return Message{Text(s)} }

// Fixed texts.
const (
	ImagineStarted  = "正在生成图片，请稍候..."
	ActionStarted   = "正在处理，请稍候..."
	SubmitFailed    = "提交任务失败，请稍后重试。"
	ImagineFailed   = "生成图片失败，请稍后重试。"
	ImagineError    = "生成图片时遇到了一个错误，请稍后再试。"
	ActionSubmitBad = "提交操作失败，请稍后重试。"
	ActionFailed    = "操作失败，请稍后重试。"
	ActionError     = "处理时遇到了一个错误，请稍后再试。"
	SourceFetchBad  = "获取原始任务信息失败，请确保任务ID正确。"
	NeedTaskID      = "请提供任务ID或先生成一张图片。"
	BadTaskID       = "任务ID格式不正确。"
	NeedPosition    = "请指定位置：左上、右上、左下、右下。例：#放大左上 1234567890"
	MJConfigMissing = "请先设置API Key和API Base URL。使用命令：\n#mjp设置apikey [值]\n#mjp设置apibaseurl [值]\n（仅限主人设置）"
	SFKeyMissing    = "请先设置画图API Key。使用命令：#sf设置画图key [值]（仅限主人设置）"
	ChatKeyMissing  = "请先设置API Key。使用命令：#sf设置画图key [值]（仅限主人设置）"
	ImageExpired    = "引用的图片地址已失效，请重新发送图片"
	PromptGenFailed = "生成提示词失败，请稍后再试。"
	ReplyFailed     = "消息处理失败，请稍后再试"
	MasterOnly      = "该命令仅限主人使用。"
	SettingFailed   = "设置保存失败，请查看日志。"
	ChatFailed      = "LLM调用失败，详情请查阅日志。"
	GeminiFailed    = "Gemini调用失败，详情请查阅日志。"
)

func Translated(prompt string) string {
	return "翻译后的提示词：" + prompt
}

func ImagineDone(prompt, taskID, imageURL string) string {
	return fmt.Sprintf("图片生成完成！\n原始提示词：%s\n任务ID：%s\n图片链接：%s", prompt, taskID, imageURL)
}

func ActionDone(actionLabel, positionLabel, newTaskID, imageURL string) string {
	return fmt.Sprintf("操作完成！\n操作类型：%s%s\n新任务ID：%s\n图片链接：%s", actionLabel, positionLabel, newTaskID, imageURL)
}

func ModeSwitched(mode string) string {
	if mode == "fast" {
		return "已切换到快速模式"
	}
	return "已切换到慢速模式"
}

func MJSettingSaved(setting string) string {
	return setting + "设置成功！"
}

func SFSettingSaved(setting, value string) string {
	return fmt.Sprintf("%s已设置：%s", setting, value)
}

func DrawStarted(senderName string, userID int64, withPrompt bool) string {
	if withPrompt {
		return fmt.Sprintf("@%s %d正在为您生成提示词并绘图...", senderName, userID)
	}
	return fmt.Sprintf("@%s %d正在为您生成图片...", senderName, userID)
}

func DrawFailed(message string) string {
	if message == "" {
		message = "未知错误"
	}
	return "生成图片失败：" + message
}
