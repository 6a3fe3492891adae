package mail

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

const (
	TemplatePasswordReset  = "password-reset"
	TemplateTaskAssignment = "task-assignment"
	TemplateTaskReview     = "task-review"

	// Placeholder rendered for optional fields that were not supplied.
	Placeholder = "Non dispoñible"
)

var ErrUnknownTemplate = errors.New("unknown mail template")

type PasswordResetParams struct {
	Name         string
	ResetURL     string
	ExpiresIn    string // e.g. "1 hora"
	BrandingName string
}

type TaskAssignmentParams struct {
	AssigneeName    string
	AssignedBy      string
	TaskTitle       string
	TaskDescription string
	Project         string
	Priority        string
	DueDate         string
	EstimatedHours  string
	TaskURL         string
	BrandingName    string
}

type ReviewTask struct {
	Title   string
	DueDate string
	Status  string
}

type TaskReviewParams struct {
	RecipientName string
	ReviewDate    string
	PendingTasks  []ReviewTask
	DashboardURL  string
	BrandingName  string
}

var (
	//go:embed templates/*.html
	templateFS embed.FS

	templates = template.Must(
		template.New("mail").Funcs(sprig.HtmlFuncMap()).ParseFS(templateFS, "templates/*.html"),
	)

	renderable = map[string]bool{
		TemplatePasswordReset:  true,
		TemplateTaskAssignment: true,
		TemplateTaskReview:     true,
	}
)

// Render executes the named template. data may be one of the *Params structs
// or a map; absent optional values render as Placeholder. Only an unknown
// template name or a data value lacking a referenced struct field fails.
func Render(templateName string, data any) (string, error) {
	if !renderable[templateName] {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateName)
	}
	b := bytes.Buffer{}
	if err := templates.ExecuteTemplate(&b, templateName, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", templateName, err)
	}
	return b.String(), nil
}

func RenderPasswordReset(p PasswordResetParams) (string, error) {
	return Render(TemplatePasswordReset, p)
}

func RenderTaskAssignment(p TaskAssignmentParams) (string, error) {
	return Render(TemplateTaskAssignment, p)
}

func RenderTaskReview(p TaskReviewParams) (string, error) {
	return Render(TemplateTaskReview, p)
}

func PasswordResetSubject() string {
	return "Restablecemento de contrasinal"
}

func TaskAssignmentSubject(taskTitle string) string {
	if taskTitle == "" {
		taskTitle = Placeholder
	}
	return "Nova tarefa asignada: " + taskTitle
}

func TaskReviewSubject(reviewDate string) string {
	if reviewDate == "" {
		return "Revisión de tarefas pendentes"
	}
	return "Revisión de tarefas pendentes (" + reviewDate + ")"
}
