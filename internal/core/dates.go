package core

import (
	"strings"
	"time"
)

// DateTimeLayout is the format used for every date written to an export file.
const DateTimeLayout = "02/01/2006 15:04"

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	DateTimeLayout,
	"02/01/2006",
}

// ParseDate parses text in loc using the known layouts in priority order.
// It returns nil for blank input or when no layout matches; callers decide
// whether an absent value is an error.
func ParseDate(text string, loc *time.Location) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return &t
		}
	}
	return nil
}

// FormatDate renders t in loc with DateTimeLayout.
func FormatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateTimeLayout)
}
