package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/imageproc"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
)

type documentAIBackend struct {
	client   *documentai.DocumentProcessorClient
	name     string
	language string
}

func newDocumentAIFactory(cfg *config.Config) (Factory, error) {
	dcfg := cfg.OCR.DocumentAI
	if dcfg.ProjectID == "" || dcfg.Location == "" || dcfg.ProcessorID == "" {
		return nil, errors.New("documentai requires project_id, location and processor_id")
	}
	language := cfg.OCR.Language

	return func(ctx context.Context) (Backend, error) {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", dcfg.Location)
		opts := []option.ClientOption{option.WithEndpoint(endpoint)}
		if dcfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(dcfg.CredentialsFile))
		}

		// 客户端生命周期长于触发加载的请求
		client, err := documentai.NewDocumentProcessorClient(context.WithoutCancel(ctx), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Document AI client: %w", err)
		}

		name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", dcfg.ProjectID, dcfg.Location, dcfg.ProcessorID)
		logger.Infof("[documentai] Using processor %s", name)

		return &documentAIBackend{client: client, name: name, language: language}, nil
	}, nil
}

func (b *documentAIBackend) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	data, err := imageproc.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	req := &documentaipb.ProcessRequest{
		Name: b.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: "image/png",
			},
		},
		SkipHumanReview: true,
	}

	resp, err := b.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to process document: %w", err)
	}

	return NewResult(documentLines(resp.GetDocument()), b.language), nil
}

func (b *documentAIBackend) Close() error {
	return b.client.Close()
}

// documentLines 将 Document AI 的 token 按所属行归并，token 置信度即词置信度
func documentLines(doc *documentaipb.Document) []Line {
	if doc == nil {
		return nil
	}
	text := []rune(doc.GetText())

	var lines []Line
	tokenCount := 0
	for _, page := range doc.GetPages() {
		pageLines := make([]Line, len(page.GetLines()))
		ranges := make([][2]int64, len(page.GetLines()))
		for i, pl := range page.GetLines() {
			pageLines[i].Box = layoutBox(pl.GetLayout())
			ranges[i] = anchorRange(pl.GetLayout())
		}

		var loose Line
		for _, tok := range page.GetTokens() {
			layout := tok.GetLayout()
			w := Word{
				Text:       strings.TrimSpace(textFromLayout(layout, text)),
				Confidence: float64(layout.GetConfidence()),
				Box:        layoutBox(layout),
			}
			tokenCount++

			start := anchorRange(layout)[0]
			placed := false
			for i, r := range ranges {
				if start >= r[0] && start < r[1] {
					pageLines[i].Words = append(pageLines[i].Words, w)
					placed = true
					break
				}
			}
			if !placed {
				loose.Words = append(loose.Words, w)
			}
		}

		lines = append(lines, pageLines...)
		if len(loose.Words) > 0 {
			lines = append(lines, loose)
		}
	}

	// 没有 token 信息时退回到全文，分数未知
	if tokenCount == 0 && len(text) > 0 {
		var fallback Line
		for _, f := range strings.Fields(string(text)) {
			fallback.Words = append(fallback.Words, Word{Text: f, Confidence: unknownScore})
		}
		lines = append(lines, fallback)
	}
	return lines
}

// textFromLayout 根据 text anchor 的片段从全文中取出文本
func textFromLayout(layout *documentaipb.Document_Page_Layout, runes []rune) string {
	if layout == nil || layout.GetTextAnchor() == nil {
		return ""
	}
	total := int64(len(runes))
	var sb strings.Builder

	for _, seg := range layout.GetTextAnchor().GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 {
			start = 0
		}
		if end > total {
			end = total
		}
		if start > end {
			start = end
		}
		sb.WriteString(string(runes[start:end]))
	}
	return sb.String()
}

func anchorRange(layout *documentaipb.Document_Page_Layout) [2]int64 {
	segs := layout.GetTextAnchor().GetTextSegments()
	if len(segs) == 0 {
		return [2]int64{-1, -1}
	}
	return [2]int64{segs[0].GetStartIndex(), segs[len(segs)-1].GetEndIndex()}
}

func layoutBox(layout *documentaipb.Document_Page_Layout) image.Rectangle {
	vertices := layout.GetBoundingPoly().GetVertices()
	if len(vertices) == 0 {
		return image.Rectangle{}
	}
	minX, minY := int(vertices[0].GetX()), int(vertices[0].GetY())
	maxX, maxY := minX, minY
	for _, v := range vertices[1:] {
		x, y := int(v.GetX()), int(v.GetY())
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	return image.Rect(minX, minY, maxX, maxY)
}
