package reply

import (
	"fmt"
	"unicode/utf8"
)

// DrawResult describes a finished SiliconFlow draw.
type DrawResult struct {
	SenderName   string
	UserID       int64
	Img2Img      bool
	UserPrompt   string
	FinalPrompt  string
	Negative     string
	Model        string
	Steps        int
	Size         string
	InferenceSec float64
	Seed         int64
	ImageURL     string
}

func (d DrawResult) kind() string {
	if d.Img2Img {
		return "图生图"
	}
	return "文生图"
}

// DrawMessages renders a draw as a forward bundle. In simple mode the image
// travels inside the bundle and the second return is nil; otherwise the
// image is sent as its own message.
func DrawMessages(d DrawResult, botName string, botUIN int64, simple bool) (Forward, Message) {
	header := fmt.Sprintf("@%s %d您的%s已完成：", d.SenderName, d.UserID, d.kind())
	neg := d.Negative
	if neg == "" {
		neg = "sf默认"
	}
	details := fmt.Sprintf("原始提示词：%s\n最终提示词：%s\n负面提示词：%s\n绘图模型：%s\n步数：%d\n图片大小：%s\n生成时间：%.2f秒\n种子：%d",
		d.UserPrompt, d.FinalPrompt, neg, d.Model, d.Steps, d.Size, d.InferenceSec, d.Seed)
	link := "图片URL：" + d.ImageURL
	summary := fmt.Sprintf("%s 的%s", d.SenderName, d.kind())

	if simple {
		return NewForward(botName, botUIN, summary, TextMsg(header), Msg(Image(d.ImageURL)), TextMsg(details), TextMsg(link)), nil
	}
	return NewForward(botName, botUIN, summary, TextMsg(header), TextMsg(details), TextMsg(link)), Msg(Image(d.ImageURL))
}

// Source is a titled link backing a Gemini answer.
type Source struct {
	Title string
	URL   string
}

func sourceLines(sources []Source) []Message {
	out := []Message{TextMsg("信息来源：")}
	for i, s := range sources {
		out = append(out, TextMsg(fmt.Sprintf("%d. %s\n%s", i+1, s.Title, s.URL)))
	}
	return out
}

// GeminiMessages renders a #gg answer. In forward mode the answer and its
// sources share one bundle. Otherwise the answer is a direct reply and the
// sources, if any, follow as a separate bundle.
func GeminiMessages(answer string, sources []Source, senderName, botName string, botUIN int64, forward bool) (Message, *Forward) {
	if forward {
		items := []Message{TextMsg(answer)}
		if len(sources) > 0 {
			items = append(items, sourceLines(sources)...)
		}
		f := NewForward(botName, botUIN, senderName+"的搜索结果", items...)
		return nil, &f
	}
	if len(sources) == 0 {
		return TextMsg(answer), nil
	}
	f := NewForward(botName, botUIN, senderName+"的搜索来源", sourceLines(sources)...)
	return TextMsg(answer), &f
}

// ChatMessages renders a #ss answer, either inline or as a bundle whose
// summary is the sender and the first 50 characters of the question.
func ChatMessages(answer, question, senderName, botName string, botUIN int64, forward bool) (Message, *Forward) {
	if !forward {
		return TextMsg(answer), nil
	}
	f := NewForward(botName, botUIN, senderName+"："+truncate(question, 50), TextMsg(answer))
	return nil, &f
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
