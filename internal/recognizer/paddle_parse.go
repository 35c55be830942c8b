package recognizer

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// maxPayloadDepth 限制递归深度，防止异常的深层嵌套
const maxPayloadDepth = 8

// unknownScore 表示条目没有给出分数
const unknownScore = -1.0

// ParsePaddlePayload 解析 PaddleOCR 返回的结果。不同版本的结构并不一致，支持：
//
//	[[ [box, [text, score]], ... ]]              每页一个列表，空页为 null
//	[ [box, [text, score]], ... ]                单页
//	{"rec_texts": [...], "rec_scores": [...]}    新版字典（也可以是字典列表）
//	{"status": "000", "results": [[{"text": .., "confidence": ..}]]}  PaddleHub Serving
//
// 以及上述结构包在 "result"/"results"/"data" 之下的情况。
// 无法识别的单个条目会被跳过；整体结构无法识别时返回 ErrUnrecognizedPayload。
func ParsePaddlePayload(data []byte) ([]Line, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}
	return parsePaddleValue(v)
}

func parsePaddleValue(v any) ([]Line, error) {
	lines, ok, err := parseNode(v, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %s", ErrUnrecognizedPayload, describe(v))
	}
	return lines, nil
}

// parseNode 返回 ok=false 表示该节点不是可识别的结果结构
func parseNode(v any, depth int) ([]Line, bool, error) {
	if depth > maxPayloadDepth {
		return nil, false, nil
	}

	switch t := v.(type) {
	case nil:
		// 空页
		return nil, true, nil

	case map[string]any:
		return parseObject(t, depth)

	case []any:
		if line, ok := parseEntry(t); ok {
			return []Line{line}, true, nil
		}

		var lines []Line
		recognized := len(t) == 0
		for _, item := range t {
			sub, ok, err := parseNode(item, depth+1)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			recognized = true
			lines = append(lines, sub...)
		}
		return lines, recognized, nil
	}

	return nil, false, nil
}

func parseObject(obj map[string]any, depth int) ([]Line, bool, error) {
	if err := serviceError(obj); err != nil {
		return nil, false, err
	}

	if texts, ok := obj["rec_texts"].([]any); ok {
		return parseRecTexts(obj, texts), true, nil
	}

	if text, ok := obj["text"].(string); ok {
		score := unknownScore
		for _, key := range []string{"confidence", "score", "rec_score"} {
			if s, ok := toFloat(obj[key]); ok {
				score = normalizeScore(s)
				break
			}
		}
		box := toBox(obj["text_region"])
		if box.Empty() {
			box = toBox(obj["text_box_position"])
		}
		return []Line{singleWordLine(text, score, box)}, true, nil
	}

	for _, key := range []string{"results", "result", "data", "res"} {
		if inner, ok := obj[key]; ok {
			return parseNode(inner, depth+1)
		}
	}

	return nil, false, nil
}

// serviceError 识别服务端返回的错误状态
func serviceError(obj map[string]any) error {
	status, ok := obj["status"]
	if !ok {
		return nil
	}

	var code string
	switch s := status.(type) {
	case string:
		code = s
	case float64:
		code = strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return nil
	}

	switch strings.ToLower(code) {
	case "", "0", "000", "200", "ok", "success":
		return nil
	}

	msg, _ := obj["msg"].(string)
	if msg == "" {
		msg, _ = obj["message"].(string)
	}
	return fmt.Errorf("paddle service error: status %s: %s", code, msg)
}

func parseRecTexts(obj map[string]any, texts []any) []Line {
	scores, _ := obj["rec_scores"].([]any)

	var boxes []any
	for _, key := range []string{"rec_polys", "dt_polys", "rec_boxes"} {
		if b, ok := obj[key].([]any); ok && len(b) == len(texts) {
			boxes = b
			break
		}
	}

	lines := make([]Line, 0, len(texts))
	for i, raw := range texts {
		text, ok := raw.(string)
		if !ok {
			continue
		}
		score := unknownScore
		if i < len(scores) {
			if s, ok := toFloat(scores[i]); ok {
				score = normalizeScore(s)
			}
		}
		var box image.Rectangle
		if boxes != nil {
			box = toBox(boxes[i])
		}
		lines = append(lines, singleWordLine(text, score, box))
	}
	return lines
}

// parseEntry 识别单个检测结果：[box, [text, score]]、[box, text, score] 或 [text, score]
func parseEntry(entry []any) (Line, bool) {
	switch len(entry) {
	case 2:
		if text, ok := entry[0].(string); ok {
			if s, ok := toFloat(entry[1]); ok {
				return singleWordLine(text, normalizeScore(s), image.Rectangle{}), true
			}
			return Line{}, false
		}
		rec, ok := entry[1].([]any)
		if !ok || len(rec) < 1 {
			return Line{}, false
		}
		text, ok := rec[0].(string)
		if !ok {
			return Line{}, false
		}
		score := unknownScore
		if len(rec) > 1 {
			if s, ok := toFloat(rec[1]); ok {
				score = normalizeScore(s)
			}
		}
		return singleWordLine(text, score, toBox(entry[0])), true

	case 3:
		text, ok := entry[1].(string)
		if !ok {
			return Line{}, false
		}
		s, ok := toFloat(entry[2])
		if !ok {
			return Line{}, false
		}
		return singleWordLine(text, normalizeScore(s), toBox(entry[0])), true
	}
	return Line{}, false
}

func singleWordLine(text string, score float64, box image.Rectangle) Line {
	return Line{
		Box:   box,
		Words: []Word{{Text: text, Confidence: score, Box: box}},
	}
}

// toBox 将 [[x,y], ...] 多边形或 [x1,y1,x2,y2] 转换为外接矩形
func toBox(v any) image.Rectangle {
	points, ok := v.([]any)
	if !ok || len(points) == 0 {
		return image.Rectangle{}
	}

	if len(points) == 4 {
		var coords [4]float64
		flat := true
		for i, p := range points {
			f, ok := toFloat(p)
			if !ok {
				flat = false
				break
			}
			coords[i] = f
		}
		if flat {
			return image.Rect(int(coords[0]), int(coords[1]), int(coords[2]), int(coords[3]))
		}
	}

	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	found := false
	for _, p := range points {
		pt, ok := p.([]any)
		if !ok || len(pt) < 2 {
			continue
		}
		x, okX := toFloat(pt[0])
		y, okY := toFloat(pt[1])
		if !okX || !okY {
			continue
		}
		found = true
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if !found {
		return image.Rectangle{}
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

// normalizeScore 把百分制分数换算到 0..1
func normalizeScore(s float64) float64 {
	if s > 1 && s <= 100 {
		return s / 100
	}
	return s
}

func describe(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		return fmt.Sprintf("object with keys %v", keys)
	case []any:
		return fmt.Sprintf("list of %d items", len(t))
	}
	return fmt.Sprintf("%T", v)
}
