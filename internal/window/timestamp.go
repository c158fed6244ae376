package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedTimestamp 时间戳无法解析（致命的输入校验错误）
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// 支持的时间格式，按顺序尝试；不带时区的格式按 UTC 处理
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp 解析时间戳，返回 epoch 秒（含小数部分）
func ParseTimestamp(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrMalformedTimestamp)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / 1e9, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
}
