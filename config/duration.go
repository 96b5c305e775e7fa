package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 包装 time.Duration，支持 YAML 中 "30s" 形式的字面量
// （yaml.v3 对原生 time.Duration 只接受纳秒整数）。
type Duration time.Duration

// Std 返回标准库 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML 同时接受 "30s" 字符串与纳秒整数。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML 输出可读的 "30s" 形式。
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
