package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	encodingO200k  = "o200k_base"
	encodingCl100k = "cl100k_base"
)

// openAIEncodings 模型名前缀到 tiktoken 编码
var openAIEncodings = map[string]string{
	"gpt-4o":        encodingO200k,
	"gpt-4.1":       encodingO200k,
	"o1":            encodingO200k,
	"o3":            encodingO200k,
	"gpt-4":         encodingCl100k,
	"gpt-3.5-turbo": encodingCl100k,
}

// TiktokenTokenizer 基于 tiktoken 的精确计数，编码表首次使用时加载
type TiktokenTokenizer struct {
	encoding string

	load sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenTokenizer 按最长前缀选择编码，未知模型使用 cl100k_base
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	encoding, bestLen := encodingCl100k, 0
	for prefix, enc := range openAIEncodings {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			encoding, bestLen = enc, len(prefix)
		}
	}
	return &TiktokenTokenizer{encoding: encoding}
}

func (t *TiktokenTokenizer) encoder() (*tiktoken.Tiktoken, error) {
	t.load.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
		if t.err != nil {
			t.err = fmt.Errorf("load tiktoken encoding %s: %w", t.encoding, t.err)
		}
	})
	return t.enc, t.err
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	enc, err := t.encoder()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	enc, err := t.encoder()
	if err != nil {
		return 0, err
	}
	total := replyPriming
	for _, m := range messages {
		total += perMessageOverhead + len(enc.Encode(m.Role, nil, nil)) + len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}

// Encoding 编码名称
func (t *TiktokenTokenizer) Encoding() string { return t.encoding }

func (t *TiktokenTokenizer) Name() string { return "tiktoken[" + t.encoding + "]" }

// RegisterOpenAITokenizers 为已知的 OpenAI 模型前缀注册 tiktoken，可重复调用
func RegisterOpenAITokenizers() {
	for prefix := range openAIEncodings {
		RegisterTokenizer(prefix, NewTiktokenTokenizer(prefix))
	}
}
