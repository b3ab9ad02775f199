package utility

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjregee/deepthread/internal/models"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2 + 2", "4"},
		{"10 * 5", "50"},
		{"(2 + 3) * 4", "20"},
		{"7 / 2", "3.5"},
		{"10 % 3", "1"},
		{"-3 + 1.5", "-1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Calculate(context.Background(), &CalculateParams{Expression: tt.expr})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "1 / 0", "os.Exit(1)", "x + 1", `"a" + "b"`, "2 ** 3"} {
		_, err := Calculate(context.Background(), &CalculateParams{Expression: bad})
		assert.ErrorIs(t, err, models.ErrInvalidArguments, bad)
	}
}

func TestSearchKnowledgeBase(t *testing.T) {
	out, err := SearchKnowledgeBase(context.Background(), &KnowledgeBaseParams{Query: "What is FastAPI?"})
	require.NoError(t, err)
	assert.Contains(t, out, "FastAPI:")

	out, err = SearchKnowledgeBase(context.Background(), &KnowledgeBaseParams{Query: "quantum chromodynamics"})
	require.NoError(t, err)
	assert.Equal(t, "No information found for query: quantum chromodynamics", out)
}

func TestAnalyzeSentiment(t *testing.T) {
	out, err := AnalyzeSentiment(context.Background(), &SentimentParams{Text: "I love this, it is great!"})
	require.NoError(t, err)
	assert.Equal(t, "Sentiment: Positive (confidence: 2)", out)

	out, err = AnalyzeSentiment(context.Background(), &SentimentParams{Text: "An awful, terrible day."})
	require.NoError(t, err)
	assert.Equal(t, "Sentiment: Negative (confidence: 2)", out)

	out, err = AnalyzeSentiment(context.Background(), &SentimentParams{Text: "The train leaves at noon."})
	require.NoError(t, err)
	assert.Equal(t, "Sentiment: Neutral", out)
}

func TestCurrentTime(t *testing.T) {
	out, err := CurrentTime(context.Background(), &CurrentTimeParams{Timezone: "UTC"})
	require.NoError(t, err)
	assert.Contains(t, out, "UTC")

	_, err = CurrentTime(context.Background(), &CurrentTimeParams{Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, models.ErrInvalidArguments)
}
