package backend

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// CostFunc estimates the token cost of a single payload. The broker uses
// it to enforce a batch window's optional token budget; it never inspects
// the payload otherwise.
type CostFunc func(payload any) int

// TiktokenCost 基于 tiktoken 编码的 payload token 估算器。
// 编码数据在首次使用时惰性初始化（可能触发下载）。
type TiktokenCost struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenCost 创建基于给定编码的估算器，空编码默认 cl100k_base。
func NewTiktokenCost(encoding string) *TiktokenCost {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCost{encoding: encoding}
}

func (t *TiktokenCost) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Cost 返回 payload 的估算 token 数。非字符串 payload 或编码初始化失败
// 时退化为按字节长度 /4 的粗略估算，保证预算检查总是可用。
func (t *TiktokenCost) Cost(payload any) int {
	s, err := payloadString(payload)
	if err != nil {
		return 1
	}
	if err := t.init(); err != nil {
		return len(s) / 4
	}
	return len(t.enc.Encode(s, nil, nil))
}
