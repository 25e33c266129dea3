package mail

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"
)

var templates = template.Must(template.New("mail").Parse(`
{{- define "verification" -}}
Hi {{.Name}},

Please confirm your email address by opening the link below:

{{.Link}}

The link expires on {{.Expires}}. If you did not create an account, you can ignore this email.
{{- end}}

{{- define "reset" -}}
Hi {{.Name}},

Someone asked to reset the password of your account. To choose a new password, open:

{{.Link}}

The link expires on {{.Expires}}. If you did not ask for this, you can ignore this email and your password stays the same.
{{- end}}
`))

type templateData struct {
	Name    string
	Link    string
	Expires string
}

// Composer renders account emails with links rooted at a public base URL.
type Composer struct {
	base *url.URL
}

// NewComposer parses publicURL ("https://id.example.com").
func NewComposer(publicURL string) (*Composer, error) {
	u, err := url.Parse(strings.TrimRight(publicURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("mail: parsing public URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mail: public URL %q must be absolute", publicURL)
	}
	return &Composer{base: u}, nil
}

// VerificationLink is where the verification token is consumed.
func (c *Composer) VerificationLink(token string) string {
	return c.base.JoinPath("user", "verify", token).String()
}

// ResetLink points at the page that posts the token to /user/reset-password.
func (c *Composer) ResetLink(token string) string {
	u := c.base.JoinPath("reset-password")
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

func (c *Composer) Verification(to, name, token string, expires time.Time) (Message, error) {
	body, err := render("verification", templateData{
		Name:    name,
		Link:    c.VerificationLink(token),
		Expires: expires.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Confirm your email address", Body: body}, nil
}

func (c *Composer) PasswordReset(to, name, token string, expires time.Time) (Message, error) {
	body, err := render("reset", templateData{
		Name:    name,
		Link:    c.ResetLink(token),
		Expires: expires.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Reset your password", Body: body}, nil
}

func render(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mail: rendering %s: %w", name, err)
	}
	return buf.String(), nil
}
