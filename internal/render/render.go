// Package render turns a template and context into channel content.
//
// Fields use Go template syntax with the context map as dot, e.g.
// "Booking {{.ref}} confirmed". Missing keys render empty. A field that
// fails to parse or execute falls back to its raw text; rendering never
// fails a send.
package render

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"

	"comms/internal/domain"
)

const noValue = "<no value>"

// Render produces content for ch. Callers apply literal overrides afterwards
// with domain.Content.Override.
func Render(ctx context.Context, tpl domain.Template, data map[string]any, ch domain.Channel) domain.Content {
	if data == nil {
		data = map[string]any{}
	}
	r := fieldRenderer{ctx: ctx, key: tpl.Key, data: data}

	switch ch {
	case domain.ChannelEmail:
		return domain.Content{
			Subject:  r.text("email_subject", tpl.EmailSubject),
			BodyText: r.text("email_body_text", tpl.EmailBodyText),
			BodyHTML: r.html("email_body_html", tpl.EmailBodyHTML),
		}
	case domain.ChannelSMS:
		return domain.Content{BodyText: r.text("sms_body", tpl.SMSBody)}
	default:
		body := tpl.EmailBodyText
		field := "email_body_text"
		if strings.TrimSpace(body) == "" {
			body, field = tpl.SMSBody, "sms_body"
		}
		return domain.Content{
			Subject:  r.text("email_subject", tpl.EmailSubject),
			BodyText: r.text(field, body),
		}
	}
}

type fieldRenderer struct {
	ctx  context.Context
	key  string
	data map[string]any
}

func (r fieldRenderer) text(field, src string) string {
	if src == "" {
		return ""
	}
	t, err := texttemplate.New(field).Parse(src)
	if err != nil {
		return r.fallback(field, src, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, r.data); err != nil {
		return r.fallback(field, src, err)
	}
	return strings.ReplaceAll(buf.String(), noValue, "")
}

func (r fieldRenderer) html(field, src string) string {
	if src == "" {
		return ""
	}
	t, err := htmltemplate.New(field).Parse(src)
	if err != nil {
		return r.fallback(field, src, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, r.data); err != nil {
		return r.fallback(field, src, err)
	}
	return strings.ReplaceAll(buf.String(), noValue, "")
}

func (r fieldRenderer) fallback(field, src string, err error) string {
	slog.WarnContext(r.ctx, "template render failed, using raw field",
		"template", r.key, "field", field, "err", err)
	return src
}
