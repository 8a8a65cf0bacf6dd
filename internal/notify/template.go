package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// Content is the template input for a notification email.
type Content struct {
	Title      string
	Intro      string
	Quote      string
	ButtonText string
	ButtonURL  string
}

type templateData struct {
	Content
	AppName string
	Year    int
}

const htmlTemplate = `<!doctype html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width,initial-scale=1">
  <title>{{.Title}}</title>
  <style>
    body { margin: 0; padding: 0; background: #f8fafc; color: #0f172a; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; }
    .wrapper { width: 100%; padding: 40px 16px; box-sizing: border-box; }
    .container { max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 16px; overflow: hidden; box-shadow: 0 20px 60px rgba(0,0,0,0.08); }
    .header { padding: 28px 32px 20px; border-bottom: 1px solid rgba(0,0,0,0.06); }
    .brand { font-weight: 700; font-size: 20px; color: #1e40af; text-transform: uppercase; letter-spacing: 0.5px; }
    .hero { padding: 32px; }
    h1 { margin: 0 0 16px; font-size: 24px; line-height: 1.3; }
    p { margin: 0 0 20px; line-height: 1.7; color: #475569; font-size: 16px; }
    blockquote { margin: 0 0 20px; padding: 12px 16px; border-left: 4px solid #3b82f6; background: #f1f5f9; color: #334155; }
    .btn { display: inline-block; padding: 14px 28px; background: #2563eb; color: #ffffff !important; text-decoration: none; border-radius: 12px; font-weight: 600; }
    .footer { padding: 20px 32px; color: #64748b; font-size: 13px; text-align: center; border-top: 1px solid rgba(0,0,0,0.06); }
  </style>
</head>
<body>
  <div class="wrapper">
    <div class="container">
      <div class="header"><div class="brand">{{.AppName}}</div></div>
      <div class="hero">
        <h1>{{.Title}}</h1>
        <p>{{.Intro}}</p>
        {{if .Quote}}<blockquote>{{.Quote}}</blockquote>{{end}}
        {{if .ButtonURL}}<a class="btn" href="{{.ButtonURL}}">{{.ButtonText}}</a>{{end}}
      </div>
      <div class="footer">&copy; {{.Year}} {{.AppName}}</div>
    </div>
  </div>
</body>
</html>`

const textTemplate = `{{.Title}}

{{.Intro}}
{{if .Quote}}
"{{.Quote}}"
{{end}}{{if .ButtonURL}}
{{.ButtonText}}: {{.ButtonURL}}
{{end}}
-- {{.AppName}} (c) {{.Year}}
`

// Renderer turns Content into the HTML and plain-text bodies of an email.
type Renderer struct {
	appName string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// NewRenderer parses the built-in templates. appName is shown in the header
// and footer.
func NewRenderer(appName string) *Renderer {
	if strings.TrimSpace(appName) == "" {
		appName = "Prayer Requests"
	}
	return &Renderer{
		appName: appName,
		html:    htmltemplate.Must(htmltemplate.New("html").Parse(htmlTemplate)),
		text:    texttemplate.Must(texttemplate.New("text").Parse(textTemplate)),
	}
}

// Render executes both templates.
func (r *Renderer) Render(c Content) (html, text string, err error) {
	data := templateData{Content: c, AppName: r.appName, Year: time.Now().Year()}
	var hb, tb bytes.Buffer
	if err = r.html.Execute(&hb, data); err != nil {
		return "", "", err
	}
	if err = r.text.Execute(&tb, data); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}
