package dispatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pelicanmail/pelican/internal/mailer"
	"github.com/pelicanmail/pelican/internal/models"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// renderMessage builds the outbound email for one contact: variable
// substitution in subject and body, channel footers, and correlation headers.
func renderMessage(c *models.Campaign, contact *models.Contact, publicBaseURL string) *mailer.Message {
	vars := map[string]string{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"name":       strings.TrimSpace(contact.FirstName + " " + contact.LastName),
		"email":      contact.Email,
	}

	subject := substitute(c.Subject, vars)
	html := substitute(c.Content, vars)

	if footer := buildFooter(c, contact, publicBaseURL); footer != "" {
		html += footer
	}

	return &mailer.Message{
		From:    formatFrom(c.FromEmail, c.FromName),
		To:      contact.Email,
		ReplyTo: c.ReplyTo,
		Subject: subject,
		HTML:    html,
		Headers: map[string]string{
			"X-Campaign-ID":    c.ID,
			"X-Contact-ID":     contact.ID,
			"List-Unsubscribe": "<" + unsubscribeURL(publicBaseURL, c, contact) + ">",
		},
	}
}

// substitute replaces {{variable}} tokens, leaving unknown tokens in place.
func substitute(template string, vars map[string]string) string {
	if template == "" {
		return template
	}
	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[strings.ToLower(name)]; ok {
			return value
		}
		return match
	})
}

func buildFooter(c *models.Campaign, contact *models.Contact, publicBaseURL string) string {
	var parts []string
	if c.IncludeViewInBrowser {
		viewURL := fmt.Sprintf("%s/campaigns/%s/view?contact=%s",
			strings.TrimRight(publicBaseURL, "/"), url.PathEscape(c.ID), url.QueryEscape(contact.ID))
		parts = append(parts, fmt.Sprintf(`<a href="%s">View in browser</a>`, viewURL))
	}
	if c.IncludeUnsubscribe {
		parts = append(parts, fmt.Sprintf(`<a href="%s">Unsubscribe</a>`, unsubscribeURL(publicBaseURL, c, contact)))
	}
	if len(parts) == 0 {
		return ""
	}
	return `<hr><p style="font-size:12px;color:#666">` + strings.Join(parts, " &middot; ") + `</p>`
}

func unsubscribeURL(publicBaseURL string, c *models.Campaign, contact *models.Contact) string {
	return fmt.Sprintf("%s/unsubscribe?contact=%s&campaign=%s",
		strings.TrimRight(publicBaseURL, "/"), url.QueryEscape(contact.ID), url.QueryEscape(c.ID))
}

func formatFrom(email, name string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}
