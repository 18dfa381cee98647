package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"ragchat/internal/textutil"
)

const judgeSystemPrompt = "You are a strict evaluator. Reply with a single number between 0 and 10 and nothing else."

const (
	contextRelevancyPrompt = `Rate from 0 to 10 how relevant the context is to the question.
Question: %s
Context: %s
Score:`
	answerRelevancyPrompt = `Rate from 0 to 10 how well the answer addresses the question.
Question: %s
Answer: %s
Score:`
	groundednessPrompt = `Rate from 0 to 10 how well the statement is supported by the context.
Context: %s
Statement: %s
Score:`
)

// Report is the RAG triad evaluation of the last exchange. Scores range
// from 0 to 10.
type Report struct {
	Question         string  `json:"question"`
	Answer           string  `json:"answer"`
	ContextRelevancy float64 `json:"context_relevancy"`
	AnswerRelevancy  float64 `json:"answer_relevancy"`
	Groundedness     float64 `json:"groundedness"`
}

var scoreRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseScore extracts the first number in a judge reply, clamped to [0, 10].
func ParseScore(reply string) (float64, error) {
	m := scoreRe.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("no score in judge reply %q", strings.TrimSpace(reply))
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, err
	}
	return math.Min(10, math.Max(0, v)), nil
}

// Evaluate scores the last exchange on context relevancy, answer relevancy
// and groundedness, using the pipeline's LLM as judge. The report is
// returned as indented JSON.
func (p *Pipeline) Evaluate(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, ErrNoExchange
	}
	ex := p.last

	report := Report{Question: ex.Question, Answer: ex.Answer}
	var err error
	if report.ContextRelevancy, err = p.contextRelevancy(ctx, ex); err != nil {
		return nil, fmt.Errorf("context relevancy: %w", err)
	}
	if report.AnswerRelevancy, err = p.judge(ctx, fmt.Sprintf(answerRelevancyPrompt, ex.Question, ex.Answer)); err != nil {
		return nil, fmt.Errorf("answer relevancy: %w", err)
	}
	if report.Groundedness, err = p.groundedness(ctx, ex); err != nil {
		return nil, fmt.Errorf("groundedness: %w", err)
	}
	return json.MarshalIndent(report, "", "  ")
}

func (p *Pipeline) contextRelevancy(ctx context.Context, ex *Exchange) (float64, error) {
	if len(ex.Contexts) == 0 {
		return 0, nil
	}
	total := 0.0
	for _, c := range ex.Contexts {
		s, err := p.judge(ctx, fmt.Sprintf(contextRelevancyPrompt, ex.Question, c))
		if err != nil {
			return 0, err
		}
		total += s
	}
	return round2(total / float64(len(ex.Contexts))), nil
}

func (p *Pipeline) groundedness(ctx context.Context, ex *Exchange) (float64, error) {
	statements := textutil.Sentences(ex.Answer)
	if len(statements) == 0 || len(ex.Contexts) == 0 {
		return 0, nil
	}
	joined := strings.Join(ex.Contexts, "\n")
	total := 0.0
	for _, st := range statements {
		s, err := p.judge(ctx, fmt.Sprintf(groundednessPrompt, joined, st))
		if err != nil {
			return 0, err
		}
		total += s
	}
	return round2(total / float64(len(statements))), nil
}

func (p *Pipeline) judge(ctx context.Context, prompt string) (float64, error) {
	reply, err := p.llm.Generate(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return 0, err
	}
	s, err := ParseScore(reply)
	if err != nil {
		return 0, err
	}
	return round2(s), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
