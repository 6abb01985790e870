package email

import (
	"bytes"
	"fmt"
	"html/template"
)

const layoutTemplate = `{{define "email"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
  <h2>{{.Heading}}</h2>
  {{template "body" .}}
  {{if .CTAURL}}<p><a href="{{.CTAURL}}" style="background:#2563eb;color:#fff;padding:10px 16px;text-decoration:none;border-radius:4px;">{{.CTALabel}}</a></p>{{end}}
</body>
</html>{{end}}`

const dealStageChangedTemplate = `{{define "body"}}
  <p>The deal for <strong>{{.ContactName}}</strong> moved to <strong>{{.StageName}}</strong>.</p>
  {{if .Trigger}}<p>Trigger: {{.Trigger}}</p>{{end}}
{{end}}`

const dealAssignedTemplate = `{{define "body"}}
  <p>A new deal for <strong>{{.ContactName}}</strong> was assigned to you{{if .OriginName}} in {{.OriginName}}{{end}}.</p>
  {{if .Source}}<p>Source: {{.Source}}</p>{{end}}
{{end}}`

var templates = map[string]*template.Template{
	"deal_stage_changed": template.Must(template.Must(template.New("layout").Parse(layoutTemplate)).Parse(dealStageChangedTemplate)),
	"deal_assigned":      template.Must(template.Must(template.New("layout").Parse(layoutTemplate)).Parse(dealAssignedTemplate)),
}

type baseEmailData struct {
	Title    string
	Heading  string
	CTALabel string
	CTAURL   string
}

type dealStageChangedEmailData struct {
	baseEmailData
	DealStageChangedEmail
}

type dealAssignedEmailData struct {
	baseEmailData
	DealAssignedEmail
}

func renderEmailTemplate(name string, data any) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderDealStageChanged(data DealStageChangedEmail) (string, error) {
	return renderEmailTemplate("deal_stage_changed", dealStageChangedEmailData{
		baseEmailData: baseEmailData{
			Title:    "Deal stage changed",
			Heading:  "Deal stage changed",
			CTALabel: "Open deal",
			CTAURL:   data.DealURL,
		},
		DealStageChangedEmail: data,
	})
}

func renderDealAssigned(data DealAssignedEmail) (string, error) {
	return renderEmailTemplate("deal_assigned", dealAssignedEmailData{
		baseEmailData: baseEmailData{
			Title:    "New deal assigned",
			Heading:  "New deal assigned",
			CTALabel: "Open deal",
			CTAURL:   data.DealURL,
		},
		DealAssignedEmail: data,
	})
}
