package utility

import (
	"context"
	_ "embed"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/zjregee/deepthread/internal/models"
)

//go:embed assets/knowledge.yaml
var knowledgeContent []byte

type knowledgeEntry struct {
	Topic    string   `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
	Content  string   `yaml:"content"`
}

var (
	knowledgeOnce    sync.Once
	knowledgeEntries []knowledgeEntry
	knowledgeErr     error
)

func loadKnowledge() ([]knowledgeEntry, error) {
	knowledgeOnce.Do(func() {
		var doc struct {
			Entries []knowledgeEntry `yaml:"entries"`
		}
		if err := yaml.Unmarshal(knowledgeContent, &doc); err != nil {
			knowledgeErr = fmt.Errorf("failed to parse knowledge base: %w", err)
			return
		}
		knowledgeEntries = doc.Entries
	})
	return knowledgeEntries, knowledgeErr
}

func CurrentTime(_ context.Context, params *CurrentTimeParams) (string, error) {
	now := time.Now()
	if params != nil && strings.TrimSpace(params.Timezone) != "" {
		loc, err := time.LoadLocation(strings.TrimSpace(params.Timezone))
		if err != nil {
			return "", fmt.Errorf("%w: unknown time zone %q", models.ErrInvalidArguments, params.Timezone)
		}
		now = now.In(loc)
	}
	return now.Format("2006-01-02 15:04:05 MST"), nil
}

func Calculate(_ context.Context, params *CalculateParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Expression) == "" {
		return "", fmt.Errorf("%w: expression must be provided", models.ErrInvalidArguments)
	}

	expr, err := parser.ParseExpr(params.Expression)
	if err != nil {
		return "", fmt.Errorf("%w: cannot parse expression: %v", models.ErrInvalidArguments, err)
	}
	v, err := eval(expr)
	if err != nil {
		return "", err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", fmt.Errorf("%w: result is not a finite number", models.ErrInvalidArguments)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

func eval(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("%w: unsupported literal %s", models.ErrInvalidArguments, n.Value)
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %s", models.ErrInvalidArguments, n.Value)
		}
		return v, nil
	case *ast.ParenExpr:
		return eval(n.X)
	case *ast.UnaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x, nil
		case token.SUB:
			return -x, nil
		}
		return 0, fmt.Errorf("%w: unsupported operator %s", models.ErrInvalidArguments, n.Op)
	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("%w: division by zero", models.ErrInvalidArguments)
			}
			return x / y, nil
		case token.REM:
			if y == 0 {
				return 0, fmt.Errorf("%w: division by zero", models.ErrInvalidArguments)
			}
			return math.Mod(x, y), nil
		}
		return 0, fmt.Errorf("%w: unsupported operator %s", models.ErrInvalidArguments, n.Op)
	default:
		return 0, fmt.Errorf("%w: only numbers and arithmetic operators are allowed", models.ErrInvalidArguments)
	}
}

func SearchKnowledgeBase(_ context.Context, params *KnowledgeBaseParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Query) == "" {
		return "", fmt.Errorf("%w: query must be provided", models.ErrInvalidArguments)
	}

	entries, err := loadKnowledge()
	if err != nil {
		return "", err
	}

	query := strings.ToLower(params.Query)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	// single-word keywords must match a whole word, phrases match anywhere
	matches := func(kw string) bool {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return false
		}
		if strings.Contains(kw, " ") {
			return strings.Contains(query, kw)
		}
		_, ok := words[kw]
		return ok
	}

	var hits []string
	for _, e := range entries {
		for _, kw := range append([]string{e.Topic}, e.Keywords...) {
			if matches(kw) {
				hits = append(hits, fmt.Sprintf("%s: %s", e.Topic, strings.TrimSpace(e.Content)))
				break
			}
		}
	}

	if len(hits) == 0 {
		return fmt.Sprintf("No information found for query: %s", params.Query), nil
	}
	return strings.Join(hits, "\n\n"), nil
}

var (
	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "excellent": {}, "happy": {}, "love": {}, "wonderful": {},
		"amazing": {}, "pleased": {}, "fantastic": {}, "glad": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "terrible": {}, "awful": {}, "hate": {}, "horrible": {}, "sad": {},
		"angry": {}, "poor": {}, "disappointed": {}, "worst": {},
	}
)

func AnalyzeSentiment(_ context.Context, params *SentimentParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Text) == "" {
		return "", fmt.Errorf("%w: text must be provided", models.ErrInvalidArguments)
	}

	words := strings.FieldsFunc(strings.ToLower(params.Text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var pos, neg int
	for _, w := range words {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}

	switch {
	case pos > neg:
		return fmt.Sprintf("Sentiment: Positive (confidence: %d)", pos-neg), nil
	case neg > pos:
		return fmt.Sprintf("Sentiment: Negative (confidence: %d)", neg-pos), nil
	default:
		return "Sentiment: Neutral", nil
	}
}
