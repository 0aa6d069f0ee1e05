package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration 解析 "30s/15m/1h/4h/1d/1w" 形态的间隔。
// d/w 不是 time.ParseDuration 的合法单位，这里单独展开。
func ParseIntervalDuration(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("间隔不能为空")
	}
	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("非法间隔 %q", raw)
		}
		if unit == 'd' {
			return time.Duration(n) * 24 * time.Hour, nil
		}
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("非法间隔 %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("间隔必须为正: %q", raw)
	}
	return d, nil
}
