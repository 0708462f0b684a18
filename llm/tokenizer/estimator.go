package tokenizer

import "unicode"

const (
	// 估算比例：表意文字约 1.5 字符/token，其余约 4 字符/token
	wideCharsPerToken   = 1.5
	narrowCharsPerToken = 4.0

	// chat 格式每条消息的分隔开销与回复引导，tiktoken 计数同样使用
	perMessageOverhead = 4
	replyPriming       = 3
)

// EstimatorTokenizer 按字符数估算 token，本地模型（llama2、mistral 等）没有
// 公开的 BPE 表时使用。
type EstimatorTokenizer struct {
	model string
}

// NewEstimatorTokenizer 创建估算器，model 仅用于标识
func NewEstimatorTokenizer(model string) *EstimatorTokenizer {
	return &EstimatorTokenizer{model: model}
}

// CountTokens 非空文本至少计 1 个 token
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var wide, narrow int
	for _, r := range text {
		if isWide(r) {
			wide++
		} else {
			narrow++
		}
	}
	n := int(float64(wide)/wideCharsPerToken + float64(narrow)/narrowCharsPerToken)
	return max(n, 1), nil
}

// CountMessages 每条消息另加固定开销，末尾加回复引导
func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPriming
	for _, msg := range messages {
		n, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// isWide 汉字、假名、韩文及全角符号
func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
