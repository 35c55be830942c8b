package recognizer

import (
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
)

// TestMain sets up the test environment
func TestMain(m *testing.M) {
	logger.SetupWithWriters(logger.WARNING, logger.FormatText, os.Stderr)
	os.Exit(m.Run())
}

func TestNewResultJoinsWordsAndAveragesConfidence(t *testing.T) {
	lines := []Line{
		{Words: []Word{
			{Text: "नमस्ते", Confidence: 0.9, Box: image.Rect(0, 0, 10, 10)},
			{Text: " ", Confidence: 0.1},
			{Text: "दुनिया", Confidence: 0.7, Box: image.Rect(12, 0, 30, 10)},
		}},
		{Words: []Word{{Text: "", Confidence: 0.2}}},
		{Words: []Word{{Text: "भारत", Confidence: unknownScore}}},
	}

	res := NewResult(lines, "hin")

	assert.Equal(t, "नमस्ते दुनिया भारत", res.Text)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9, "whitespace-only words and unknown scores are excluded")
	require.Len(t, res.Lines, 2, "lines without words are dropped")
	assert.Equal(t, "नमस्ते दुनिया", res.Lines[0].Text)
	assert.Equal(t, image.Rect(0, 0, 30, 10), res.Lines[0].Box)
	assert.Equal(t, 3, res.WordCount())
	assert.Equal(t, "hin", res.Language)
}

func TestNewResultEmpty(t *testing.T) {
	res := NewResult(nil, "hin")
	assert.Equal(t, "", res.Text)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Empty(t, res.Lines)
}

func TestNewResultClampsScores(t *testing.T) {
	res := NewResult([]Line{{Words: []Word{{Text: "क", Confidence: 1.4}}}}, "")
	assert.Equal(t, 1.0, res.Confidence)
}
