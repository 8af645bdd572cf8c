package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/stretchr/testify/assert"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/tool"
)

func testToolContext() *core.ToolContext {
	turnCtx := core.NewTurnContext(
		context.Background(),
		"turn-1",
		"alice",
		core.NewScopeSet(core.ScopeStandalone, core.ScopeCalendarReadonly),
		core.NewUserContent("what is on my calendar?"),
		nil,
		8,
		nil,
		nil,
		logging.NoOpLogger{},
	)
	return core.NewToolContext(turnCtx, "fc-1")
}

// ics joins lines with the CRLF terminators the format requires.
func ics(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func decodeICS(t *testing.T, raw string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return cal
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	return loc
}

func marchRange(t *testing.T) (time.Time, time.Time) {
	loc := berlin(t)
	return time.Date(2025, 3, 1, 0, 0, 0, 0, loc), time.Date(2025, 4, 1, 0, 0, 0, 0, loc)
}

// -------------------- Expansion Tests --------------------

func TestExpandObject_TimedEvent(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART:20250310T100000Z",
		"DTEND:20250310T110000Z",
		"SUMMARY:Dentist",
		"DESCRIPTION:Bring insurance card",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	got := expandObject(cal, "/cal/personal/", start, end, berlin(t))

	assert.Len(t, got, 1)
	assert.Equal(t, Event{
		Name:        "Dentist",
		StartTime:   "2025-03-10T11:00:00+01:00",
		EndTime:     "2025-03-10T12:00:00+01:00",
		CalendarID:  "/cal/personal/",
		Description: "Bring insurance card",
	}, got[0].event)
}

func TestExpandObject_AllDayEvent(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART;VALUE=DATE:20250311",
		"DTEND;VALUE=DATE:20250312",
		"SUMMARY:Conference day",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	got := expandObject(cal, "/cal/personal/", start, end, berlin(t))

	assert.Len(t, got, 1)
	assert.Equal(t, "2025-03-11", got[0].event.StartTime)
	assert.Equal(t, "2025-03-12", got[0].event.EndTime)
}

func TestExpandObject_WeeklyRecurrenceAcrossDST(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART:20250303T090000Z",
		"DTEND:20250303T093000Z",
		"RRULE:FREQ=WEEKLY;COUNT=10",
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	got := expandObject(cal, "/cal/work/", start, end, berlin(t))

	assert.Len(t, got, 5)
	assert.Equal(t, "2025-03-03T10:00:00+01:00", got[0].event.StartTime)
	assert.Equal(t, "2025-03-03T10:30:00+01:00", got[0].event.EndTime)
	// Berlin switches to CEST on March 30.
	assert.Equal(t, "2025-03-31T11:00:00+02:00", got[4].event.StartTime)
}

func TestExpandObject_ExcludedDateSkipped(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART:20250303T090000Z",
		"DTEND:20250303T093000Z",
		"RRULE:FREQ=WEEKLY;COUNT=4",
		"EXDATE:20250310T090000Z",
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	got := expandObject(cal, "/cal/work/", start, end, berlin(t))

	assert.Len(t, got, 3)
	for _, inst := range got {
		assert.NotEqual(t, "2025-03-10T10:00:00+01:00", inst.event.StartTime)
	}
}

func TestExpandObject_OverrideReplacesOccurrence(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART:20250303T090000Z",
		"DTEND:20250303T093000Z",
		"RRULE:FREQ=WEEKLY;COUNT=3",
		"SUMMARY:Standup",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ev1",
		"RECURRENCE-ID:20250310T090000Z",
		"DTSTART:20250310T140000Z",
		"DTEND:20250310T143000Z",
		"SUMMARY:Standup (moved)",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	got := expandObject(cal, "/cal/work/", start, end, berlin(t))

	assert.Len(t, got, 3)

	var names []string
	for _, inst := range got {
		names = append(names, inst.event.Name)
	}
	assert.Contains(t, names, "Standup (moved)")

	var moved int
	for _, inst := range got {
		if inst.event.Name == "Standup (moved)" {
			moved++
			assert.Equal(t, "2025-03-10T15:00:00+01:00", inst.event.StartTime)
		} else {
			assert.NotEqual(t, "2025-03-10", inst.event.StartTime[:10])
		}
	}
	assert.Equal(t, 1, moved)
}

func TestExpandObject_CancelledEventSkipped(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART:20250310T100000Z",
		"DTEND:20250310T110000Z",
		"STATUS:CANCELLED",
		"SUMMARY:Dentist",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	assert.Empty(t, expandObject(cal, "/cal/personal/", start, end, berlin(t)))
}

func TestExpandObject_OutOfRangeEventSkipped(t *testing.T) {
	cal := decodeICS(t, ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//penny//test//EN",
		"BEGIN:VEVENT",
		"UID:ev1",
		"DTSTART:20250510T100000Z",
		"DTEND:20250510T110000Z",
		"SUMMARY:Later",
		"END:VEVENT",
		"END:VCALENDAR",
	))

	start, end := marchRange(t)
	assert.Empty(t, expandObject(cal, "/cal/personal/", start, end, berlin(t)))
}

// -------------------- Range Parsing Tests --------------------

func TestParseRangeBound(t *testing.T) {
	loc := berlin(t)

	got, err := parseRangeBound("2025-03-01T00:00:00Z", loc)
	assert.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	got, err = parseRangeBound("2025-03-01", loc)
	assert.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, loc)))

	got, err = parseRangeBound("2025-03-01T08:30:00", loc)
	assert.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 8, 30, 0, 0, loc)))

	_, err = parseRangeBound("next tuesday", loc)
	assert.Error(t, err)
}

// -------------------- Calendar Filter Tests --------------------

func TestSupportsEvents(t *testing.T) {
	assert.True(t, supportsEvents(caldav.Calendar{}))
	assert.True(t, supportsEvents(caldav.Calendar{SupportedComponentSet: []string{"VEVENT", "VTODO"}}))
	assert.False(t, supportsEvents(caldav.Calendar{SupportedComponentSet: []string{"VTODO"}}))
}

// -------------------- Tool Wiring Tests --------------------

func TestProvider_ToolsRequireCalendarScope(t *testing.T) {
	p := New("https://cal.example.com/dav", "alice", "secret")
	tools := p.Tools()
	assert.Len(t, tools, 2)

	names := []string{tools[0].Name(), tools[1].Name()}
	assert.Contains(t, names, "calendar_list")
	assert.Contains(t, names, "calendar_list_events")

	for _, tl := range tools {
		assert.True(t, tl.RequiredScopes().Has(core.ScopeCalendarReadonly))
	}
}

func TestListEvents_RejectsBadArgsBeforeConnecting(t *testing.T) {
	p := New("https://cal.example.com/dav", "alice", "secret")
	var listEvents tool.Tool
	for _, tl := range p.Tools() {
		if tl.Name() == "calendar_list_events" {
			listEvents = tl
		}
	}

	_, err := listEvents.Call(testToolContext(), map[string]any{
		"start_time":          "2025-03-01",
		"end_time":            "2025-03-02",
		"users_iana_timezone": "Mars/Base",
	})
	assert.Error(t, err)
	var toolErr *tool.ToolError
	assert.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Message, "Mars/Base")

	_, err = listEvents.Call(testToolContext(), map[string]any{
		"start_time":          "2025-03-02",
		"end_time":            "2025-03-01",
		"users_iana_timezone": "Europe/Berlin",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "end_time must be after start_time")
}

func TestListCalendars_MissingEndpoint(t *testing.T) {
	p := New("", "alice", "secret")
	_, err := p.Tools()[0].Call(testToolContext(), map[string]any{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
