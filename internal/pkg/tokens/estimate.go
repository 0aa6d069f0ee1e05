package tokens

import "unicode/utf8"

// Estimate 粗略估算文本的 token 数。
// 英文按 4 字符/token 估算；多字节字符（中文等）按 1 字符/token。
// 只用于历史预算判断，不需要精确。
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	ascii := 0
	wide := 0
	for _, r := range text {
		if utf8.RuneLen(r) == 1 {
			ascii++
		} else {
			wide++
		}
	}
	return ascii/4 + wide
}

// EstimateAll 累加多段文本的估算值。
func EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
