// Package render 把队列行渲染成通知邮件
package render

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"jobnotify/internal/model"
)

// Email 渲染结果
type Email struct {
	Subject string
	Text    string
	HTML    string
}

type view struct {
	Category    string
	Title       string
	Location    string
	ListingType string
	Preview     string
	JobURL      string
	PrefsURL    string
	SiteName    string
}

var htmlTmpl = htmltemplate.Must(htmltemplate.New("job_notification.html").Parse(`<!doctype html>
<html>
  <body style="font-family: Arial, sans-serif; color: #1f2937;">
    <p>A new job was posted in <strong>{{.Category}}</strong>.</p>
    <h2 style="margin: 0 0 8px;">{{.Title}}</h2>
    {{- if .Location}}
    <p style="margin: 0;">Location: {{.Location}}</p>
    {{- end}}
    {{- if .ListingType}}
    <p style="margin: 0;">Type: {{.ListingType}}</p>
    {{- end}}
    {{- if .Preview}}
    <p>{{.Preview}}</p>
    {{- end}}
    <p><a href="{{.JobURL}}">View the job</a></p>
    <p style="font-size: 12px; color: #6b7280;">
      You are receiving this because your {{.SiteName}} profile lists services in this category.
      <a href="{{.PrefsURL}}">Manage notifications</a>
    </p>
  </body>
</html>
`))

var textTmpl = texttemplate.Must(texttemplate.New("job_notification.txt").Parse(`A new job was posted in {{.Category}}.

{{.Title}}
{{- if .Location}}
Location: {{.Location}}
{{- end}}
{{- if .ListingType}}
Type: {{.ListingType}}
{{- end}}
{{- if .Preview}}

{{.Preview}}
{{- end}}

View the job: {{.JobURL}}

You are receiving this because your {{.SiteName}} profile lists services in this category.
Manage notifications: {{.PrefsURL}}
`))

// Renderer 纯函数式渲染，只依赖构造时的站点配置
type Renderer struct {
	baseURL  string
	siteName string
}

func NewRenderer(baseURL, siteName string) *Renderer {
	if siteName == "" {
		siteName = "marketplace"
	}
	return &Renderer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		siteName: siteName,
	}
}

// Subject 邮件主题：New job in {category}: {title}
func Subject(row model.QueueRow) string {
	return fmt.Sprintf("New job in %s: %s", categoryOf(row), titleOf(row))
}

// JobURL 职位详情页链接
func (r *Renderer) JobURL(jobID string) string {
	return r.baseURL + "/jobs/" + url.PathEscape(jobID)
}

// Render 渲染一行；所有用户可控字段在 HTML 中都会被转义
func (r *Renderer) Render(row model.QueueRow) (Email, error) {
	v := view{
		Category:    categoryOf(row),
		Title:       titleOf(row),
		Location:    strings.TrimSpace(row.JobLocation),
		ListingType: strings.TrimSpace(row.ListingType),
		Preview:     strings.TrimSpace(row.DescriptionPreview),
		JobURL:      r.JobURL(row.JobID),
		PrefsURL:    r.baseURL + "/dashboard/notifications",
		SiteName:    r.siteName,
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, v); err != nil {
		return Email{}, fmt.Errorf("failed to render html body: %w", err)
	}
	if err := textTmpl.Execute(&textBuf, v); err != nil {
		return Email{}, fmt.Errorf("failed to render text body: %w", err)
	}

	return Email{
		Subject: Subject(row),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}

func titleOf(row model.QueueRow) string {
	if t := strings.TrimSpace(row.JobTitle); t != "" {
		return t
	}
	return "Untitled"
}

func categoryOf(row model.QueueRow) string {
	if c := strings.TrimSpace(row.CategoryName); c != "" {
		return c
	}
	return "your category"
}
