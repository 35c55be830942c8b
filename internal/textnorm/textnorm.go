// Package textnorm 规范化识别出的天城文文本并汇总置信度
package textnorm

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize 对文本做 NFC 规范化并折叠空白
func Normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// JoinWords 规范化每个词并用单个空格连接，空词被丢弃
func JoinWords(words []string) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w = Normalize(w); w != "" {
			parts = append(parts, w)
		}
	}
	return strings.Join(parts, " ")
}

// MeanConfidence 返回分数的算术平均值，NaN 和负数被忽略
func MeanConfidence(scores []float64) float64 {
	var sum float64
	n := 0
	for _, s := range scores {
		if math.IsNaN(s) || s < 0 {
			continue
		}
		sum += s
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// FormatConfidence 将置信度格式化为两位小数
func FormatConfidence(c float64) string {
	if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", c)
}

// ClampUnit 将值限制在 [0,1]
func ClampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
