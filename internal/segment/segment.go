// Package segment splits extracted document text into per-question spans
// with one model call.
package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/llm/prompts"
	"github.com/edubridge/classquiz/internal/metrics"
	"github.com/edubridge/classquiz/internal/model"
)

// ErrContract is returned by Parse when the model output is not a JSON
// object of strings.
var ErrContract = errors.New("segmentation output does not match the contract")

// Segmenter splits text by question number.
type Segmenter struct {
	llm         llm.Completer
	temperature float32
}

// New creates a Segmenter.
func New(c llm.Completer, temperature float32) *Segmenter {
	return &Segmenter{llm: c, temperature: temperature}
}

// Segment returns the text split by question number. It never fails: on a
// model error or an unparseable reply the whole text is returned under the
// preamble key.
func (s *Segmenter) Segment(ctx context.Context, text string, role model.DocumentRole) model.Segments {
	segs, err := s.segment(ctx, text, role)
	metrics.Segmentations.WithLabelValues(string(role), metrics.Outcome(err)).Inc()
	if err != nil {
		slog.Warn("segmentation degraded to a single block", "role", role, "error", err)
		return model.Segments{model.PreambleKey: text}
	}
	return segs
}

func (s *Segmenter) segment(ctx context.Context, text string, role model.DocumentRole) (model.Segments, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	prompt, err := prompts.BuildSegmentPrompt(role, text)
	if err != nil {
		return nil, err
	}
	raw, err := s.llm.Complete(ctx, llm.Request{
		Kind:        "segment",
		System:      prompts.SegmentSystem,
		Prompt:      prompt,
		Temperature: s.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("segmentation call: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a model reply into segments. The reply may be wrapped in a
// code fence. Keys are normalised with NormalizeKey; text under keys that are
// not question numbers is appended to the preamble.
func Parse(raw string) (model.Segments, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: empty object", ErrContract)
	}

	segs := make(model.Segments, len(obj))
	var preamble []string
	for _, k := range sortedKeys(obj) {
		var v string
		if err := json.Unmarshal(obj[k], &v); err != nil {
			return nil, fmt.Errorf("%w: value of %q is not a string", ErrContract, k)
		}
		v = strings.TrimSpace(v)
		key, ok := NormalizeKey(k)
		if !ok {
			if v != "" {
				preamble = append(preamble, v)
			}
			continue
		}
		if prev, dup := segs[key]; dup && prev != "" {
			v = prev + "\n" + v
		}
		segs[key] = v
	}
	if len(preamble) > 0 {
		segs[model.PreambleKey] = strings.Join(preamble, "\n")
	}
	if len(segs.QuestionNumbers()) == 0 && segs[model.PreambleKey] == "" {
		return nil, fmt.Errorf("%w: no text", ErrContract)
	}
	return segs, nil
}

// NormalizeKey turns keys like " Q3.", "3)" or "q 3" into "3". It reports
// false for the preamble and for keys that are not positive integers.
func NormalizeKey(k string) (string, bool) {
	k = strings.TrimSpace(k)
	k = strings.TrimLeft(k, "Qq")
	k = strings.TrimSpace(strings.TrimRight(k, ".):"))
	n, err := strconv.Atoi(k)
	if err != nil || n <= 0 {
		return "", false
	}
	return strconv.Itoa(n), true
}

// sortedKeys orders keys so that merged duplicates keep a stable order.
func sortedKeys(obj map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	model.SortQuestionNumbers(keys)
	return keys
}
