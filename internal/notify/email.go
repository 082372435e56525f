package notify

import (
	"bytes"
	"context"
	"html/template"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/catalog-monitor/internal/model"
)

// SMTPConfig configures outgoing mail.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Email sends alerts through SMTP.
type Email struct {
	from   string
	sender mailSender
}

// NewEmail creates an SMTP notifier.
func NewEmail(cfg SMTPConfig) *Email {
	return &Email{
		from:   cfg.From,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

var emailBody = template.Must(template.New("alert").Parse(`<p>We found a release on {{.ProviderID}} that we could not match to your catalog:</p>
<p><strong>{{.Title}}</strong>{{if .ReleaseType}} ({{.ReleaseType}}){{end}}{{if .ReleaseDate}}, released {{.ReleaseDate.Format "2006-01-02"}}{{end}}</p>
<p>Is this yours?</p>
<p><a href="{{.ConfirmURL}}">Yes, this is mine</a> &middot; <a href="{{.DisputeURL}}">No, this is not mine</a></p>
<p>These links expire on {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}.</p>
`))

type emailView struct {
	Message
	ConfirmURL string
	DisputeURL string
}

// Send implements Notifier. The context is not honoured by gomail; callers
// bound the dial with the SMTP server's own timeouts.
func (e *Email) Send(_ context.Context, msg Message) (*Delivery, error) {
	if msg.Recipient == "" {
		return nil, eris.Errorf("notify: no contact email for creator %s", msg.CreatorID)
	}

	var body bytes.Buffer
	if err := emailBody.Execute(&body, emailView{
		Message:    msg,
		ConfirmURL: msg.ActionURLs[model.ActionConfirm],
		DisputeURL: msg.ActionURLs[model.ActionDispute],
	}); err != nil {
		return nil, eris.Wrap(err, "notify: render email")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", "New release detected: "+msg.Title)
	m.SetHeader("X-Alert-ID", msg.AlertID)
	m.SetBody("text/html", body.String())

	if err := e.sender.DialAndSend(m); err != nil {
		return nil, eris.Wrap(err, "notify: smtp send")
	}
	return &Delivery{Channel: model.ChannelEmail, Reference: msg.AlertID}, nil
}
