// Package recognizer 把文字检测、方向分类和字符识别委托给外部 OCR 引擎。
//
// 所有引擎都实现 Engine 接口，并由 LazyEngine 包装：昂贵的模型在第一次请求时
// 才加载，并由互斥锁保证只加载一次。
package recognizer

import (
	"context"
	"errors"
	"image"

	"github.com/PhiFever/devanagari-ocr-server/internal/textnorm"
)

var (
	// ErrNotCompiled 表示二进制未包含该引擎（例如缺少 -tags=ocr）
	ErrNotCompiled = errors.New("OCR support not compiled in (use -tags=ocr to enable)")
	// ErrUnknownEngine 表示配置了未注册的引擎
	ErrUnknownEngine = errors.New("unknown OCR engine")
	// ErrUnrecognizedPayload 表示引擎返回了无法解析的结果
	ErrUnrecognizedPayload = errors.New("unrecognized OCR result payload")
)

// Engine 是所有识别引擎的接口
type Engine interface {
	// Name 返回引擎名称
	Name() string

	// Recognize 识别图像中的文本
	Recognize(ctx context.Context, img image.Image) (*Result, error)

	// Loaded 报告模型是否已经加载，不会触发加载
	Loaded() bool

	// Close 释放引擎持有的资源
	Close() error
}

// Word 是一个识别出的词（或一个文本区域）
type Word struct {
	Text string
	// Confidence 取值 0..1，负数表示引擎没有给出分数
	Confidence float64
	Box        image.Rectangle
}

// Line 是一行文本
type Line struct {
	Text       string
	Confidence float64
	Box        image.Rectangle
	Words      []Word
}

// Result 是一次识别的结果
type Result struct {
	Text       string
	Confidence float64
	Lines      []Line
	Language   string
}

// WordCount 返回结果中的词数
func (r *Result) WordCount() int {
	n := 0
	for _, l := range r.Lines {
		n += len(l.Words)
	}
	return n
}

// NewResult 从行构建结果：丢弃空词，按单个空格拼接文本，
// 置信度为所有词分数的算术平均值。
func NewResult(lines []Line, language string) *Result {
	res := &Result{Language: language}

	var texts []string
	var scores []float64

	for _, line := range lines {
		var lineTexts []string
		var lineScores []float64
		words := make([]Word, 0, len(line.Words))

		for _, w := range line.Words {
			w.Text = textnorm.Normalize(w.Text)
			if w.Text == "" {
				continue
			}
			if w.Confidence >= 0 {
				w.Confidence = textnorm.ClampUnit(w.Confidence)
			}
			words = append(words, w)
			lineTexts = append(lineTexts, w.Text)
			lineScores = append(lineScores, w.Confidence)
		}
		if len(words) == 0 {
			continue
		}

		texts = append(texts, lineTexts...)
		scores = append(scores, lineScores...)

		line.Words = words
		line.Text = textnorm.JoinWords(lineTexts)
		line.Confidence = textnorm.MeanConfidence(lineScores)
		if line.Box.Empty() {
			line.Box = unionBoxes(words)
		}
		res.Lines = append(res.Lines, line)
	}

	res.Text = textnorm.JoinWords(texts)
	res.Confidence = textnorm.MeanConfidence(scores)
	return res
}

func unionBoxes(words []Word) image.Rectangle {
	var r image.Rectangle
	for _, w := range words {
		r = r.Union(w.Box)
	}
	return r
}
