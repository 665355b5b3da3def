package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type emailView struct {
	Title string
	Lead  string
	Code  string
	TTL   string
}

// CodeMessage renders the notification carrying a verification code for the
// given channel.
func CodeMessage(channel Channel, destination, code string, purpose Purpose, ttl time.Duration) (Message, error) {
	switch channel {
	case ChannelEmail:
		view := emailView{
			Title: "Activate Your Account",
			Lead:  "Use the code below to confirm your email address.",
			Code:  code,
			TTL:   ttl.String(),
		}
		if purpose == PurposeReset {
			view.Title = "Reset Your Password"
			view.Lead = "Use the code below to reset your password."
		}
		var buf bytes.Buffer
		if err := emailTemplates.ExecuteTemplate(&buf, "activate_account.html", view); err != nil {
			return Message{}, fmt.Errorf("render email: %w", err)
		}
		return Message{Channel: channel, Destination: destination, Subject: view.Title, Body: buf.String()}, nil
	case ChannelPhone:
		body := fmt.Sprintf("Hello my friend!\nYour confirmation code: %s", code)
		if purpose == PurposeReset {
			body = fmt.Sprintf("Hello my friend!\nYour password reset code: %s", code)
		}
		return Message{Channel: channel, Destination: destination, Body: body}, nil
	default:
		return Message{}, fmt.Errorf("unknown channel %q", channel)
	}
}
