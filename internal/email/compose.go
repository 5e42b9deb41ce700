package email

import (
	"strings"

	"mailpacer/dispatch"
)

// Recipient is one row of a recipient list.
type Recipient struct {
	Email   string
	Name    string
	Company string
	Note    string
}

// Campaign is the subject and body template shared by every recipient.
type Campaign struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Sender identifies who the campaign is sent as.
type Sender struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Company string `yaml:"company"`
}

// RetryCampaign is used when a resubmission has no campaign to reuse.
var RetryCampaign = Campaign{
	Name:    "retry",
	Subject: "Following up on my previous message",
	Body:    "Hello {NOMBRE},\n\nI am following up on a message that may not have reached you.\n\n{MENSAJE_PERSONAL}\n\nBest regards,\n{REMITENTE_NOMBRE}",
}

// Skipped is a recipient left out of a composed list.
type Skipped struct {
	Recipient Recipient
	Err       error
}

// DisplayName returns the recipient's name, or one derived from the address.
func (r Recipient) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return NameFromAddress(r.Email)
}

// Personalize fills the template placeholders for one recipient.
func Personalize(template string, r Recipient, s Sender) string {
	return strings.NewReplacer(
		"{NOMBRE}", r.DisplayName(),
		"{EMPRESA}", r.Company,
		"{MENSAJE_PERSONAL}", r.Note,
		"{REMITENTE_NOMBRE}", s.Name,
		"{REMITENTE_EMAIL}", s.Email,
		"{EMPRESA_REMITENTE}", s.Company,
	).Replace(template)
}

// Compose turns recipients into messages. Invalid and duplicate addresses
// are skipped and returned with the reason; order is preserved.
func Compose(recipients []Recipient, c Campaign, s Sender) ([]dispatch.Message, []Skipped) {
	seen := make(map[string]struct{}, len(recipients))
	var (
		out     []dispatch.Message
		skipped []Skipped
	)
	for _, r := range recipients {
		addr, err := Normalize(r.Email)
		if err != nil {
			skipped = append(skipped, Skipped{Recipient: r, Err: err})
			continue
		}
		if _, dup := seen[addr]; dup {
			skipped = append(skipped, Skipped{Recipient: r, Err: ErrDuplicate})
			continue
		}
		seen[addr] = struct{}{}
		r.Email = addr

		out = append(out, dispatch.Message{
			To:      addr,
			Name:    r.DisplayName(),
			Company: strings.TrimSpace(r.Company),
			Note:    strings.TrimSpace(r.Note),
			Subject: Personalize(c.Subject, r, s),
			Body:    Personalize(c.Body, r, s),
		})
	}
	return out, skipped
}
