package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/edubridge/classquiz/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	referenceAnswerRegex    = regexp.MustCompile(`(?i)</?\s*reference-answer\b[^>]*>`)
	documentRegex           = regexp.MustCompile(`(?i)</?\s*document\b[^>]*>`)
	questionRegex           = regexp.MustCompile(`(?i)</?\s*question\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const (
	maxAnswerRunes   = 10000
	maxDocumentRunes = 60000
)

// Chat functions offered by the assistant.
const (
	FunctionDoubt    = "doubt"
	FunctionNavigate = "navigate"
)

// System prompts shared by every call of a kind.
const (
	ExtractSystem = "You transcribe documents. You return only the text you see."
	SegmentSystem = "You split exam documents by question number and reply with a single JSON object."
	GradeSystem   = "You are a fair and consistent exam grader. You reply with a single JSON object."
)

var templateFiles = []string{
	"extract",
	"segment_question_paper",
	"segment_answer_script",
	"grade",
	"chat_teacher",
	"chat_student",
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// SegmentData holds template data for segmentation prompts.
type SegmentData struct {
	Text string
}

// GradeData holds template data for the per-question grading prompt.
type GradeData struct {
	QuestionNumber string
	Question       string // optional question text
	Reference      string
	Answer         string
	MaxScore       float64
}

// ChatData selects the assistant's system prompt.
type ChatData struct {
	Role     model.UserRole
	Function string
}

// Load parses prompt templates from fsys, which must contain a templates/
// directory. It uses sync.Once to ensure templates are loaded only once;
// builders fall back to the embedded templates when Load was never called.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		parsed := make(map[string]*template.Template, len(templateFiles))
		for _, name := range templateFiles {
			file := "templates/" + name + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			parsed[name] = tmpl
		}
		templates = parsed
	})
	return loadErr
}

func execute(name string, data any) (string, error) {
	if err := Load(templateFS); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", errors.New("unknown prompt template: " + name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// ExtractInstruction is the per-page instruction sent with a page image.
func ExtractInstruction() (string, error) {
	return execute("extract", nil)
}

// BuildSegmentPrompt builds the segmentation prompt for a document role.
// Question papers and answer keys share one prompt; answer scripts get
// their own.
func BuildSegmentPrompt(role model.DocumentRole, text string) (string, error) {
	name := "segment_question_paper"
	switch role {
	case model.RoleQuestionPaper, model.RoleAnswerKey:
	case model.RoleAnswerScript:
		name = "segment_answer_script"
	default:
		return "", errors.New("invalid document role: " + string(role))
	}
	text = documentRegex.ReplaceAllString(text, "")
	return execute(name, SegmentData{Text: truncate(strings.TrimSpace(text), maxDocumentRunes, "\n\n[Document truncated due to length]")})
}

// BuildGradePrompt builds the grading prompt for one question.
func BuildGradePrompt(d GradeData) (string, error) {
	d.Answer = sanitizeAnswer(d.Answer)
	d.Reference = referenceAnswerRegex.ReplaceAllString(d.Reference, "")
	d.Reference = truncate(strings.TrimSpace(d.Reference), maxAnswerRunes, "")
	if d.Reference == "" {
		d.Reference = "[No reference answer provided]"
	}
	d.Question = truncate(strings.TrimSpace(questionRegex.ReplaceAllString(d.Question, "")), maxAnswerRunes, "")
	return execute("grade", d)
}

// BuildChatSystem builds the assistant's system prompt. Unknown functions
// are treated as doubt-solving.
func BuildChatSystem(d ChatData) (string, error) {
	if d.Function != FunctionNavigate {
		d.Function = FunctionDoubt
	}
	name := "chat_student"
	if d.Role == model.UserRoleTeacher {
		name = "chat_teacher"
	}
	return execute(name, d)
}

// IsValidFunction reports whether f is a known chat function.
func IsValidFunction(f string) bool {
	return f == FunctionDoubt || f == FunctionNavigate
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = referenceAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	return truncate(answer, maxAnswerRunes, "\n\n[Answer truncated due to length]")
}

func truncate(s string, limit int, marker string) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + marker
}
