package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// Digest is the payload handed to a Notifier
type Digest struct {
	Subject string
	Groups  []Group
	Total   int
	HTML    string
	Text    string
}

var digestTmpl = template.Must(template.New("digest").Parse(`
{{- range .Groups}}
<h3>{{.Name}}</h3>
{{- range .Records}}
<p>
  <b>[{{.ChangeType}}] {{.Title}}</b><br>
  Price: {{.Price}}<br>
  Condition: {{.Condition}}<br>
  Location: {{.LocationDate}}<br>
  <a href="{{.Link}}">View listing</a>
  {{- if .ImageURL}}<br>
  <img src="{{.ImageURL}}" width="200" alt="">{{end}}
</p><hr>
{{- end}}
{{- end}}
`))

// mailPolicy restricts the digest to the markup the template emits.
// Scraped values are escaped by the template; this additionally drops
// anything that is not a plain http(s) link or image.
var mailPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("h3", "p", "b", "br", "hr")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "width", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return p
}()

// Render turns a batch into a digest. It has no side effects.
func Render(b *Batch, subjectPrefix string) (Digest, error) {
	d := Digest{
		Subject: fmt.Sprintf("[%s] %d new/updated listings", subjectPrefix, b.Len()),
		Groups:  b.Groups(),
		Total:   b.Len(),
	}

	var buf bytes.Buffer
	if err := digestTmpl.Execute(&buf, d); err != nil {
		return Digest{}, fmt.Errorf("render digest: %w", err)
	}
	d.HTML = mailPolicy.Sanitize(buf.String())

	text, err := htmltomarkdown.ConvertString(d.HTML)
	if err != nil || strings.TrimSpace(text) == "" {
		text = fallbackText(d)
	}
	d.Text = strings.TrimSpace(text)
	return d, nil
}

func fallbackText(d Digest) string {
	var sb strings.Builder
	for _, g := range d.Groups {
		fmt.Fprintf(&sb, "%s\n", g.Name())
		for _, r := range g.Records {
			fmt.Fprintf(&sb, "[%s] %s | %s | %s | %s\n%s\n\n",
				r.ChangeType, r.Title, r.Price, r.Condition, r.LocationDate, r.Link)
		}
	}
	return sb.String()
}
