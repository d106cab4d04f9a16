package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/five82/clanhub/internal/model"
)

// recordLine is one rendered row: a leading column, the main text and an
// optional trailing badge.
type recordLine struct {
	lead   string
	text   string
	badge  string
	unread bool
}

func summarize(kind model.Kind, r model.Record, now time.Time) recordLine {
	switch kind {
	case model.KindNews:
		return recordLine{
			lead: relativeTime(r.Time(model.FieldCreatedAt), now),
			text: joinNonEmpty(" - ", firstField(r, "title", "headline"), byline(r, "author")),
		}
	case model.KindLeaderboard:
		rank := "-"
		if n, ok := r.Int(model.FieldRank); ok {
			rank = fmt.Sprintf("#%d", n)
		}
		return recordLine{
			lead: rank,
			text: joinNonEmpty("  ", firstField(r, "clan_name", "name", "title"), points(r)),
		}
	case model.KindTopPlayers:
		name := nested(r, "player", "username")
		if name == "" {
			name = firstField(r, "username", "name")
		}
		return recordLine{lead: points(r), text: name}
	case model.KindAwards:
		return recordLine{
			lead: relativeTime(r.Time(model.FieldCreatedAt), now),
			text: joinNonEmpty(" - ", firstField(r, "title", "name"), firstField(r, "recipient", "description")),
		}
	case model.KindClanRequests:
		applicant := nested(r, "applicant", "username")
		if applicant == "" {
			applicant = r.String(model.FieldUserID)
		}
		return recordLine{
			lead:  relativeTime(r.Time(model.FieldCreatedAt), now),
			text:  joinNonEmpty(" - ", applicant, firstField(r, "message", "reason")),
			badge: r.String(model.FieldStatus),
		}
	case model.KindNotifications:
		return recordLine{
			lead:   relativeTime(r.Time(model.FieldCreatedAt), now),
			text:   firstField(r, "message", "title", "body"),
			unread: !r.Bool(model.FieldRead),
		}
	}
	return recordLine{text: r.ID()}
}

func points(r model.Record) string {
	for _, f := range []string{model.FieldScore, "points"} {
		if v, ok := r.Float(f); ok {
			return fmt.Sprintf("%g pts", v)
		}
	}
	return ""
}

func firstField(r model.Record, fields ...string) string {
	for _, f := range fields {
		if s := strings.TrimSpace(r.String(f)); s != "" {
			return s
		}
	}
	return ""
}

// nested reads a field of an embedded relation such as author:profiles(username).
func nested(r model.Record, relation, field string) string {
	switch v := r[relation].(type) {
	case map[string]any:
		return model.Record(v).String(field)
	case model.Record:
		return v.String(field)
	}
	return ""
}

func byline(r model.Record, relation string) string {
	if name := nested(r, relation, "username"); name != "" {
		return "by " + name
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
	return t.Local().Format("2006-01-02")
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
