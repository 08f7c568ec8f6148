package template

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"time"

	"crm-notification-service/internal/domain"
)

// Service renders email bodies for instant notifications and digests. Layout
// only; copy comes from the notification rows themselves.
type Service struct {
	notification *template.Template
	digest       *template.Template
}

const notificationTmpl = `<html><body>
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{if .ActionURL}}<p><a href="{{.ActionURL}}">{{if .ActionLabel}}{{.ActionLabel}}{{else}}View{{end}}</a></p>{{end}}
<p style="color:#888;font-size:12px">{{.EventType}} &middot; {{.Year}}</p>
</body></html>`

const digestTmpl = `<html><body>
<h2>{{.Subject}}</h2>
{{range .Groups}}
<h3>{{.Label}}</h3>
<ul>
{{range .Items}}<li><strong>{{.Title}}</strong> &mdash; {{.Message}}{{if .ActionURL}} <a href="{{.ActionURL}}">{{if .ActionLabel}}{{.ActionLabel}}{{else}}View{{end}}</a>{{end}}</li>
{{end}}</ul>
{{end}}
<p style="color:#888;font-size:12px">You are receiving this digest because of your notification preferences.</p>
</body></html>`

func NewService() *Service {
	return &Service{
		notification: template.Must(template.New("notification").Parse(notificationTmpl)),
		digest:       template.Must(template.New("digest").Parse(digestTmpl)),
	}
}

func (s *Service) RenderNotification(n *domain.Notification) (string, error) {
	data := map[string]any{
		"Title":       n.Title,
		"Message":     n.Message,
		"ActionURL":   n.ActionURL,
		"ActionLabel": n.ActionLabel,
		"EventType":   n.EventType,
		"Year":        time.Now().Year(),
	}
	var buf bytes.Buffer
	if err := s.notification.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute notification template: %w", err)
	}
	return buf.String(), nil
}

type digestGroup struct {
	Label string
	Items []*domain.Notification
}

var priorityLabels = map[domain.Priority]string{
	domain.PriorityUrgent: "Urgent",
	domain.PriorityHigh:   "High priority",
	domain.PriorityMedium: "Updates",
	domain.PriorityLow:    "Everything else",
}

// RenderDigest renders one digest email for a batch, grouped by priority with
// the most severe group first.
func (s *Service) RenderDigest(subject string, notifications []*domain.Notification) (string, error) {
	byPriority := make(map[domain.Priority][]*domain.Notification)
	for _, n := range notifications {
		byPriority[n.Priority] = append(byPriority[n.Priority], n)
	}

	priorities := make([]domain.Priority, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool {
		return priorities[i].Rank() > priorities[j].Rank()
	})

	groups := make([]digestGroup, 0, len(priorities))
	for _, p := range priorities {
		label := priorityLabels[p]
		if label == "" {
			label = string(p)
		}
		groups = append(groups, digestGroup{Label: label, Items: byPriority[p]})
	}

	var buf bytes.Buffer
	err := s.digest.Execute(&buf, map[string]any{
		"Subject": subject,
		"Groups":  groups,
	})
	if err != nil {
		return "", fmt.Errorf("execute digest template: %w", err)
	}
	return buf.String(), nil
}
