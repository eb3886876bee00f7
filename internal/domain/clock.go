package domain

import "time"

// Tardiness at or before this local time of day needs no notification.
const cutOffMinutes = 8*60 + 10 // 08:10

// stampLayout is the storage form of timestamps: local wall clock.
const stampLayout = "2006-01-02 15:04:05"

// Older rows were written as UTC ISO stamps; accepted on read and
// converted to local time.
var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Clock provides local time in the deployment timezone and the storage
// representation of timestamps.
type Clock struct {
	loc *time.Location
}

// NewClock builds a Clock for an IANA timezone name.
func NewClock(tz string) (*Clock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current local time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// NotificationRequired reports whether a tardy event at t must be
// reported. At or before the cut-off no request is needed.
func (c *Clock) NotificationRequired(t time.Time) bool {
	lt := t.In(c.loc)
	return lt.Hour()*60+lt.Minute() > cutOffMinutes
}

// Stamp formats t in the local storage form.
func (c *Clock) Stamp(t time.Time) string {
	return t.In(c.loc).Format(stampLayout)
}

// HM formats t as local HH:MM.
func (c *Clock) HM(t time.Time) string {
	return t.In(c.loc).Format("15:04")
}

// ClockFromStamp extracts a local HH:MM from a stored timestamp. Accepts
// the local stamp form and the legacy UTC ISO forms; anything else is
// returned verbatim so old rows still render. Empty input renders as "—".
func (c *Clock) ClockFromStamp(s string) string {
	if s == "" {
		return "—"
	}
	if t, err := time.ParseInLocation(stampLayout, s, c.loc); err == nil {
		return t.Format("15:04")
	}
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(c.loc).Format("15:04")
		}
	}
	return s
}
