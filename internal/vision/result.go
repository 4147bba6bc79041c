package vision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sethshoultes/flock-control/internal/model"
)

// ErrUnparseable marks model output that is not the expected JSON.
var ErrUnparseable = errors.New("unparseable analysis result")

// MaxCount is the largest flock size an analysis may report.
const MaxCount = 100000

// Result is a structured analysis of one image.
type Result struct {
	Count      int
	Breed      *string
	Confidence *float64
	Labels     []string
}

type rawResult struct {
	Count      *float64 `json:"count"`
	Breed      string   `json:"breed"`
	Confidence *float64 `json:"confidence"`
	Labels     []string `json:"labels"`
	Age        string   `json:"age"`
	Health     string   `json:"health"`
}

// ParseResult decodes model output. Markdown code fences around the JSON are
// tolerated. Age and health observations become age:* and health:* labels
// after the model's own labels.
func ParseResult(text string) (*Result, error) {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if raw.Count == nil || *raw.Count < 0 {
		return nil, fmt.Errorf("%w: missing or negative count", ErrUnparseable)
	}
	if *raw.Count > MaxCount {
		return nil, fmt.Errorf("%w: count %g out of range", ErrUnparseable, *raw.Count)
	}

	res := &Result{Count: int(*raw.Count), Labels: []string{}}
	if breed := strings.TrimSpace(raw.Breed); breed != "" {
		res.Breed = &breed
	}
	if raw.Confidence != nil {
		c := *raw.Confidence
		// Some responses use 0..1 instead of a percentage.
		if c > 0 && c <= 1 {
			c *= 100
		}
		if c < 0 {
			c = 0
		}
		if c > 100 {
			c = 100
		}
		res.Confidence = &c
	}
	for _, l := range raw.Labels {
		if l = strings.TrimSpace(l); l != "" {
			res.Labels = append(res.Labels, l)
		}
	}
	if age := strings.TrimSpace(raw.Age); age != "" {
		res.Labels = append(res.Labels, model.LabelAgePrefix+strings.ToLower(age))
	}
	if health := strings.TrimSpace(raw.Health); health != "" {
		res.Labels = append(res.Labels, model.LabelHealthPrefix+strings.ToLower(health))
	}
	return res, nil
}

// FailedResult is what an image with unreadable analysis is recorded as.
func FailedResult() *Result {
	return &Result{Count: 0, Labels: []string{model.LabelAIFailed}}
}
