package flow

import (
	"fmt"

	"github.com/ashureev/qiming/internal/domain"
)

// Style ids offered by the preference card.
const (
	StylePoetic      = "poetic"
	StyleModern      = "modern"
	StyleTraditional = "traditional"
	StyleUnsure      = "unsure"
)

var styleOptions = []domain.StyleOption{
	{ID: StylePoetic, Label: "希望有诗意和文化底蕴 📚"},
	{ID: StyleModern, Label: "希望简单好记，现代一些 ✨"},
	{ID: StyleTraditional, Label: "希望符合传统五行八字 ☯️"},
	{ID: StyleUnsure, Label: "还没想好，需要您的建议 💡"},
}

// StyleLabel returns the display text for a style id. Unknown ids are
// returned unchanged.
func StyleLabel(id string) string {
	for _, o := range styleOptions {
		if o.ID == id {
			return o.Label
		}
	}
	return id
}

// StyleOptions returns the choices of the preference card.
func StyleOptions() []domain.StyleOption {
	return append([]domain.StyleOption(nil), styleOptions...)
}

const (
	textWelcome = "恭喜！先让我了解一下宝宝的基本情况吧😊"

	textAskOptional = "明白了！如果方便的话，我还想知道：\n" +
		"• 家里有需要避讳的字吗？（比如长辈名字）\n" +
		"• 有特定的字辈要求吗？\n" +
		"• 有特别喜欢的字或意象吗？（比如：山、海、文、武等）\n\n" +
		"当然，这些都不是必须的，您可以直接说\"跳过\"😊"

	textSkip         = "跳过"
	textDetailsGiven = "已补充信息"
	textProfile      = "好的，让我先为宝宝分析一下生辰八字和五行喜用..."
	textDirections   = "根据您的期望和八字分析，我为宝宝准备了几个方向，咱们一起来看看："
	textAskAnother   = "我想再看看其他名字"
	textAnother      = "好的，我再为您推荐几个类似风格的名字："
)

func subjectEcho(info domain.SubjectInfo) string {
	return fmt.Sprintf("已填写：%s姓，%s宝宝", info.Surname, info.Gender.Label())
}

func subjectReply(info domain.SubjectInfo) string {
	location := ""
	if info.BirthLocation != "" {
		location = "在" + info.BirthLocation + "出生的"
	}
	return fmt.Sprintf("我看到%s%s👦，这个时节出生的孩子往往性格沉稳。\n\n您对名字有什么特别的期望吗？",
		location, info.Gender.Noun())
}

func optionalEcho(d domain.OptionalDetails) string {
	if d.Skip {
		return textSkip
	}
	return textDetailsGiven
}

func directionEcho(dir domain.NameDirection) string {
	return "我想看看" + dir.Title
}

func directionReply(dir domain.NameDirection) string {
	return "好的！让我们深入看看" + dir.Title + "："
}

func selectEcho(name string) string {
	return fmt.Sprintf("我喜欢\"%s\"这个风格", name)
}

func selectReply(name string) string {
	runes := []rune(name)
	first, second := "", ""
	if len(runes) > 0 {
		first = string(runes[0])
	}
	if len(runes) > 1 {
		second = string(runes[1])
	}
	return fmt.Sprintf("您觉得\"%s\"怎么样？\n\n如果喜欢这个风格但想调整，我可以：\n"+
		"• 保留\"%s\"，换第二个字\n"+
		"• 保留\"%s\"，换第一个字\n"+
		"• 找类似意境的其他组合", name, first, second)
}

func confirmEcho(name string) string {
	return "就选「" + name + "」了！"
}

func completionReply(name string) string {
	return "🎉 恭喜您为宝宝选定了「" + name + "」这个名字！\n\n" +
		"这个名字寓意美好，五行相合，音韵和谐。相信这个名字会伴随宝宝健康成长，前程似锦！\n\n" +
		"您还可以：\n" +
		"• 查看完整起名报告（含八字详解、名字解析等）\n" +
		"• 分享这个名字给家人朋友\n" +
		"• 保存为宝宝的人生第一份礼物\n\n" +
		"祝宝宝健康快乐成长！😊"
}
