package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
}

type manualMatchEmailData struct {
	baseEmailData
	ContactID         string
	CandidateName     string
	SimilarityPercent int
	HasCandidate      bool
	Confidence        string
}

func newManualMatchData(notice ManualMatchNotice) manualMatchEmailData {
	return manualMatchEmailData{
		baseEmailData: baseEmailData{
			Title:      "Manual match required",
			Heading:    "Manual match required",
			Subheading: "A new lead could not be attributed to a creative with confidence.",
		},
		ContactID:         notice.ContactID,
		CandidateName:     notice.CandidateDirectionName,
		SimilarityPercent: notice.SimilarityPercent,
		HasCandidate:      notice.CandidateDirectionName != "",
		Confidence:        notice.Confidence,
	}
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
