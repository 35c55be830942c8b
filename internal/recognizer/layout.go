package recognizer

import (
	"image"
	"strings"
)

// splitLanguages 将 "hin+eng" 或 "hin,eng" 拆分为语言列表
func splitLanguages(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	langs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			langs = append(langs, f)
		}
	}
	return langs
}

// groupWordsIntoLines 按行框归并词框。
// 词的中心落在哪个行框内就属于哪一行；找不到行的词单独成行。
func groupWordsIntoLines(lineBoxes []image.Rectangle, words []Word) []Line {
	lines := make([]Line, len(lineBoxes))
	for i, box := range lineBoxes {
		lines[i].Box = box
	}

	var orphans []Line
	for _, w := range words {
		center := image.Pt((w.Box.Min.X+w.Box.Max.X)/2, (w.Box.Min.Y+w.Box.Max.Y)/2)

		best := -1
		bestArea := 0
		for i, box := range lineBoxes {
			if !center.In(box) {
				continue
			}
			overlap := box.Intersect(w.Box)
			area := overlap.Dx() * overlap.Dy()
			if best == -1 || area > bestArea {
				best = i
				bestArea = area
			}
		}

		if best == -1 {
			orphans = append(orphans, Line{Box: w.Box, Words: []Word{w}})
			continue
		}
		lines[best].Words = append(lines[best].Words, w)
	}

	out := make([]Line, 0, len(lines)+len(orphans))
	for _, l := range lines {
		if len(l.Words) > 0 {
			out = append(out, l)
		}
	}
	return append(out, orphans...)
}
