package openrouter

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/lim5max/checklytool/core/assessment"
)

const recognizePrompt = `You read photos of a student's answer sheet with %d numbered questions.
Return JSON: {"answers": {"<question number>": "<answer as written>"}, "confidence": <0..1>}.
For choice questions write the chosen option numbers separated by commas. Skip unanswered questions.`

const essayPrompt = `You are a teacher grading a student's essay on a 2..5 scale.
Rubric: %s
Grade thresholds (percent of the rubric met): %s
Return JSON: {"grade": <2..5>, "comment": "<short feedback for the student>", "confidence": <0..1>}.`

// RecognizeAnswers reads the answers written on the sheet photos.
func (c *Client) RecognizeAnswers(ctx context.Context, imageURLs []string, questionCount int) (map[int]string, float64, error) {
	if len(imageURLs) == 0 {
		return nil, 0, errors.New("no images to recognize")
	}

	out, err := c.complete(ctx, []message{
		userMessage(fmt.Sprintf(recognizePrompt, questionCount), imageURLs),
	})
	if err != nil {
		return nil, 0, err
	}

	res := gjson.Parse(out)
	answers := make(map[int]string)
	res.Get("answers").ForEach(func(key, value gjson.Result) bool {
		q := int(key.Int())
		if q >= 1 && (questionCount == 0 || q <= questionCount) {
			answers[q] = strings.TrimSpace(value.String())
		}
		return true
	})
	return answers, confidence(res), nil
}

// GradeEssay grades content (or the essay photos) against rubric.
func (c *Client) GradeEssay(
	ctx context.Context,
	rubric, content string,
	imageURLs []string,
	criteria []assessment.GradeCriterion,
) (assessment.EssayGrade, error) {
	if len(criteria) == 0 {
		criteria = assessment.DefaultCriteria
	}
	thresholds := make([]string, 0, len(criteria))
	for _, cr := range criteria {
		thresholds = append(thresholds, fmt.Sprintf("%d: %g%%", cr.Grade, cr.MinPercentage))
	}

	text := "Essay:\n" + content
	if content == "" {
		text = "The essay is on the attached photos."
	}
	out, err := c.complete(ctx, []message{
		{Role: "system", Content: fmt.Sprintf(essayPrompt, rubric, strings.Join(thresholds, ", "))},
		userMessage(text, imageURLs),
	})
	if err != nil {
		return assessment.EssayGrade{}, err
	}

	res := gjson.Parse(out)
	grade := int(res.Get("grade").Int())
	if grade < 2 || grade > 5 {
		return assessment.EssayGrade{}, errors.Errorf("openrouter: invalid grade %q", res.Get("grade").Raw)
	}
	return assessment.EssayGrade{
		Grade:      grade,
		Comment:    res.Get("comment").String(),
		Confidence: confidence(res),
	}, nil
}
