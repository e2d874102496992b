package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	ht "html/template"
	"net/smtp"
	"os"
	"strings"
	tt "text/template"

	"github.com/jordan-wright/email"
	"github.com/rotisserie/eris"

	"github.com/quartermile/ledgerd/pkg/config"
	"github.com/quartermile/ledgerd/pkg/ldlog"
)

// WelcomeParams contains the values that will be passed to the mail template
type WelcomeParams struct {
	To        string
	FirstName string
	Product   string
	Existing  bool
	// This field will be set automatically
	BaseURL string
}

const defaultWelcomeText = `Hi {{.FirstName}},

Thanks for your {{.Product}} purchase! Your account is now
{{if .Existing}}updated{{else}}created{{end}} and ready to use.

Log in anytime at {{.BaseURL}}/login
`

const defaultWelcomeHTML = `<p>Hi {{.FirstName}},</p>
<p>Thanks for your {{.Product}} purchase! Your account is now
{{if .Existing}}updated{{else}}created{{end}} and ready to use.</p>
<p>Log in anytime at <a href="{{.BaseURL}}/login">{{.BaseURL}}/login</a></p>
`

var (
	welcomeText *tt.Template
	welcomeHTML *ht.Template
)

// Init loads the mail templates. Missing template paths fall back to the
// built-in defaults.
func Init(cfg *config.Config) error {
	text := defaultWelcomeText
	if cfg.Mail.Welcome.Text != "" {
		data, err := os.ReadFile(cfg.Mail.Welcome.Text)
		if err != nil {
			return eris.Wrapf(err, "failed to read template file %s", cfg.Mail.Welcome.Text)
		}
		text = string(data)
	}

	var err error
	welcomeText, err = tt.New("welcome mail template").Parse(text)
	if err != nil {
		return eris.Wrapf(err, "failed to parse template %s", cfg.Mail.Welcome.Text)
	}

	html := defaultWelcomeHTML
	if cfg.Mail.Welcome.HTML != "" {
		data, err := os.ReadFile(cfg.Mail.Welcome.HTML)
		if err != nil {
			return eris.Wrapf(err, "failed to read template file %s", cfg.Mail.Welcome.HTML)
		}
		html = string(data)
	}

	welcomeHTML, err = ht.New("welcome mail html").Parse(html)
	if err != nil {
		return eris.Wrapf(err, "failed to parse template %s", cfg.Mail.Welcome.HTML)
	}

	return nil
}

// SendWelcomeMail sends the post-purchase welcome mail. With no SMTP server
// configured the mail is only logged, which keeps local setups working.
func SendWelcomeMail(ctx context.Context, cfg *config.Config, params WelcomeParams) error {
	ldlog.Log(ctx).Debug().Msgf("Sending welcome mail to %s", params.To)

	params.BaseURL = cfg.HTTP.BaseURL

	text := strings.Builder{}
	err := welcomeText.Execute(&text, params)
	if err != nil {
		return eris.Wrap(err, "failed to execute welcome text template")
	}
	textBody := text.String()

	if cfg.Mail.Server == "" {
		ldlog.Log(ctx).Info().Msgf("Simulated mail to %s:\n%s\n%s", params.To, cfg.Mail.Welcome.Subject, textBody)
		return nil
	}

	mail := email.NewEmail()
	mail.From = cfg.Mail.From
	mail.Subject = cfg.Mail.Welcome.Subject
	mail.To = []string{params.To}
	mail.Text = []byte(textBody)

	text.Reset()
	err = welcomeHTML.Execute(&text, params)
	if err != nil {
		return eris.Wrap(err, "failed to execute welcome HTML template")
	}

	mail.HTML = []byte(text.String())

	auth := smtp.PlainAuth("", cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.Server)
	addr := fmt.Sprintf("%s:%d", cfg.Mail.Server, cfg.Mail.Port)

	if cfg.Mail.Encryption == "STARTTLS" {
		err = mail.SendWithStartTLS(addr, auth, &tls.Config{
			ServerName: cfg.Mail.Server,
		})
	} else if cfg.Mail.Encryption == "SSL" {
		err = mail.SendWithTLS(addr, auth, &tls.Config{
			ServerName: cfg.Mail.Server,
		})
	} else {
		err = mail.Send(addr, auth)
	}

	if err != nil {
		return eris.Wrap(err, "failed to send mail")
	}

	ldlog.Log(ctx).Debug().Msg("Mail successfully sent")
	return nil
}
