package textnorm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeComposesDevanagari(t *testing.T) {
	// NA + NUKTA composes to NNNA.
	assert.Equal(t, "\u0929", Normalize("\u0928\u093c"))

	// QA is a composition exclusion and stays decomposed.
	assert.Equal(t, "\u0915\u093c", Normalize("\u0958"))
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "नमस्ते दुनिया", Normalize("  नमस्ते \n\t दुनिया  "))
	assert.Equal(t, "", Normalize(" \n "))
}

func TestJoinWords(t *testing.T) {
	got := JoinWords([]string{"नमस्ते", "", "  ", "दुनिया\n"})
	assert.Equal(t, "नमस्ते दुनिया", got)
	assert.Equal(t, "", JoinWords(nil))
}

func TestMeanConfidence(t *testing.T) {
	assert.InDelta(t, 0.8, MeanConfidence([]float64{0.9, 0.7}), 1e-9)
	assert.InDelta(t, 0.5, MeanConfidence([]float64{0.5, math.NaN(), -1}), 1e-9)
	assert.Equal(t, 0.0, MeanConfidence(nil))
}

func TestFormatConfidence(t *testing.T) {
	assert.Equal(t, "0.87", FormatConfidence(0.8712))
	assert.Equal(t, "1.00", FormatConfidence(0.999))
	assert.Equal(t, "0.00", FormatConfidence(0))
	assert.Equal(t, "0.00", FormatConfidence(math.NaN()))
}

func TestClampUnit(t *testing.T) {
	assert.Equal(t, 0.0, ClampUnit(-0.2))
	assert.Equal(t, 1.0, ClampUnit(1.7))
	assert.Equal(t, 0.4, ClampUnit(0.4))
	assert.Equal(t, 0.0, ClampUnit(math.NaN()))
}
