// Package calendar exposes read-only calendar tools over CalDAV. Any server
// speaking the protocol works (Google via app passwords, Fastmail, Nextcloud,
// Radicale). Recurring events are expanded client side so the model sees
// concrete occurrences, never raw RRULEs.
package calendar

import (
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/teambition/rrule-go"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/tool"
)

// Options configure the CalDAV connection.
type Options struct {
	// HTTPClient overrides the default 30-second-timeout client.
	HTTPClient *http.Client
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) func(o *Options) {
	return func(o *Options) { o.HTTPClient = c }
}

// Provider holds a lazily established CalDAV client shared by the calendar
// tools. The mutex serializes discovery so concurrent tool calls share one
// client.
type Provider struct {
	endpoint string
	username string
	password string
	httpc    *http.Client

	mu      sync.Mutex
	client  *caldav.Client
	homeSet string
}

// New creates a calendar provider for the given CalDAV endpoint and
// credentials. No network traffic happens until a tool runs.
func New(endpoint, username, password string, optFns ...func(o *Options)) *Provider {
	opts := Options{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Provider{
		endpoint: endpoint,
		username: username,
		password: password,
		httpc:    opts.HTTPClient,
	}
}

// Tools returns the tools contributed by this provider.
func (p *Provider) Tools() []tool.Tool {
	return []tool.Tool{p.newListCalendarsTool(), p.newListEventsTool()}
}

// getClient connects on first use and caches the discovered calendar home set.
func (p *Provider) getClient(toolCtx *core.ToolContext) (*caldav.Client, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, p.homeSet, nil
	}
	if p.endpoint == "" {
		return nil, "", fmt.Errorf("caldav endpoint is not configured")
	}

	httpClient := webdav.HTTPClientWithBasicAuth(p.httpc, p.username, p.password)
	client, err := caldav.NewClient(httpClient, p.endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("caldav client: %w", err)
	}

	ctx := toolCtx.Context()
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("caldav principal discovery: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, "", fmt.Errorf("caldav home set discovery: %w", err)
	}

	toolCtx.Logger().Debug("calendar.connected", "endpoint", p.endpoint, "home_set", homeSet)

	p.client = client
	p.homeSet = homeSet
	return p.client, p.homeSet, nil
}

func (p *Provider) findCalendars(toolCtx *core.ToolContext) ([]caldav.Calendar, error) {
	client, homeSet, err := p.getClient(toolCtx)
	if err != nil {
		return nil, err
	}

	all, err := client.FindCalendars(toolCtx.Context(), homeSet)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	calendars := make([]caldav.Calendar, 0, len(all))
	for _, cal := range all {
		if supportsEvents(cal) {
			calendars = append(calendars, cal)
		}
	}
	return calendars, nil
}

// supportsEvents filters out collections that only hold journals or todos.
// An empty component set means the server did not advertise one; assume events.
func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}

// Calendar describes one calendar collection as shown to the model.
type Calendar struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (p *Provider) newListCalendarsTool() tool.Tool {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	return tool.NewFunctionTool(
		"calendar_list",
		"List the calendars the user can read. Returns the id, name and description of each calendar.",
		params,
		func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
			found, err := p.findCalendars(toolCtx)
			if err != nil {
				return nil, err
			}

			calendars := make([]Calendar, 0, len(found))
			for _, cal := range found {
				name := cal.Name
				if name == "" {
					name = path.Base(strings.TrimSuffix(cal.Path, "/"))
				}
				calendars = append(calendars, Calendar{
					ID:          cal.Path,
					Name:        name,
					Description: cal.Description,
				})
			}
			return calendars, nil
		},
		tool.WithRequiredScopes(core.ScopeCalendarReadonly),
	)
}

// Event is one concrete event occurrence. All-day occurrences carry plain
// dates in start_time/end_time, timed ones RFC 3339 timestamps in the
// requested timezone.
type Event struct {
	Name        string `json:"name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	CalendarID  string `json:"calendar_id"`
	Description string `json:"description,omitempty"`
}

type listEventsArgs struct {
	StartTime         string `json:"start_time" description:"Range start, RFC 3339 or YYYY-MM-DD"`
	EndTime           string `json:"end_time" description:"Range end (exclusive), RFC 3339 or YYYY-MM-DD"`
	UsersIANATimezone string `json:"users_iana_timezone" description:"IANA timezone to render event times in, such as Europe/Berlin"`
}

func (p *Provider) newListEventsTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"calendar_list_events",
		"List events between start_time and end_time across all readable calendars. Recurring events are expanded to concrete occurrences, sorted by start time.",
		listEventsArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			tz, _ := args["users_iana_timezone"].(string)
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
			}

			startArg, _ := args["start_time"].(string)
			endArg, _ := args["end_time"].(string)
			rangeStart, err := parseRangeBound(startArg, loc)
			if err != nil {
				return nil, fmt.Errorf("invalid start_time: %w", err)
			}
			rangeEnd, err := parseRangeBound(endArg, loc)
			if err != nil {
				return nil, fmt.Errorf("invalid end_time: %w", err)
			}
			if !rangeEnd.After(rangeStart) {
				return nil, fmt.Errorf("end_time must be after start_time")
			}

			calendars, err := p.findCalendars(toolCtx)
			if err != nil {
				return nil, err
			}
			client, _, err := p.getClient(toolCtx)
			if err != nil {
				return nil, err
			}

			var instances []instance
			for _, cal := range calendars {
				objs, err := client.QueryCalendar(toolCtx.Context(), cal.Path, eventsQuery(rangeStart, rangeEnd))
				if err != nil {
					// One broken calendar should not hide the others.
					toolCtx.Logger().Warn("calendar.query_failed", "calendar", cal.Path, "error", err.Error())
					continue
				}
				for _, obj := range objs {
					if obj.Data == nil {
						continue
					}
					instances = append(instances, expandObject(obj.Data, cal.Path, rangeStart, rangeEnd, loc)...)
				}
			}

			sort.Slice(instances, func(i, j int) bool { return instances[i].at.Before(instances[j].at) })

			events := make([]Event, 0, len(instances))
			for _, inst := range instances {
				events = append(events, inst.event)
			}
			return events, nil
		},
		tool.WithRequiredScopes(core.ScopeCalendarReadonly),
	)
}

// parseRangeBound accepts RFC 3339 timestamps, zoneless timestamps and plain
// dates, interpreting the zoneless forms in loc.
func parseRangeBound(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q, want RFC 3339 or YYYY-MM-DD", s)
}

func eventsQuery(start, end time.Time) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}
}

// instance pairs a rendered occurrence with its sortable start time.
type instance struct {
	event Event
	at    time.Time
}

// expandObject turns the VEVENTs of one calendar object into concrete
// occurrences within [rangeStart, rangeEnd). A calendar object holds one UID:
// a master event plus any RECURRENCE-ID overrides. Overrides replace the
// master occurrence they name. Malformed events are skipped rather than
// failing the whole listing.
func expandObject(data *ical.Calendar, calendarID string, rangeStart, rangeEnd time.Time, loc *time.Location) []instance {
	events := data.Events()

	overridden := make(map[int64]bool)
	for i := range events {
		if prop := events[i].Props.Get(ical.PropRecurrenceID); prop != nil {
			if t, err := prop.DateTime(loc); err == nil {
				overridden[t.Unix()] = true
			}
		}
	}

	var out []instance
	for i := range events {
		ev := &events[i]

		if status, _ := ev.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
			continue
		}

		startProp := ev.Props.Get(ical.PropDateTimeStart)
		if startProp == nil {
			continue
		}
		start, err := ev.DateTimeStart(loc)
		if err != nil {
			continue
		}
		allDay := startProp.ValueType() == ical.ValueDate

		end, err := ev.DateTimeEnd(loc)
		if err != nil || !end.After(start) {
			if allDay {
				end = start.AddDate(0, 0, 1)
			} else {
				end = start
			}
		}
		duration := end.Sub(start)

		name, _ := ev.Props.Text(ical.PropSummary)
		description, _ := ev.Props.Text(ical.PropDescription)

		emit := func(occStart, occEnd time.Time) {
			out = append(out, instance{
				at: occStart,
				event: Event{
					Name:        name,
					StartTime:   formatOccurrence(occStart, loc, allDay),
					EndTime:     formatOccurrence(occEnd, loc, allDay),
					CalendarID:  calendarID,
					Description: description,
				},
			})
		}

		switch {
		case ev.Props.Get(ical.PropRecurrenceID) != nil:
			// Override instance, emitted as-is.
			if start.Before(rangeEnd) && end.After(rangeStart) {
				emit(start, end)
			}
		case ev.Props.Get(ical.PropRecurrenceRule) != nil:
			for _, occ := range expandRecurring(ev, start, rangeStart, rangeEnd, loc) {
				if overridden[occ.Unix()] {
					continue
				}
				emit(occ, occ.Add(duration))
			}
		default:
			if start.Before(rangeEnd) && end.After(rangeStart) {
				emit(start, end)
			}
		}
	}
	return out
}

// expandRecurring evaluates RRULE, RDATE and EXDATE into occurrence start
// times within [rangeStart, rangeEnd).
func expandRecurring(ev *ical.Event, start, rangeStart, rangeEnd time.Time, loc *time.Location) []time.Time {
	prop := ev.Props.Get(ical.PropRecurrenceRule)
	ropt, err := rrule.StrToROption(prop.Value)
	if err != nil {
		return nil
	}
	ropt.Dtstart = start

	rule, err := rrule.NewRRule(*ropt)
	if err != nil {
		return nil
	}

	var set rrule.Set
	set.DTStart(start)
	set.RRule(rule)
	for _, rd := range ev.Props.Values(ical.PropRecurrenceDates) {
		if t, err := rd.DateTime(loc); err == nil {
			set.RDate(t)
		}
	}
	for _, ex := range ev.Props.Values(ical.PropExceptionDates) {
		if t, err := ex.DateTime(loc); err == nil {
			set.ExDate(t)
		}
	}

	// Between is inclusive of the lower bound, exclusive of the upper.
	return set.Between(rangeStart, rangeEnd.Add(-time.Nanosecond), true)
}

func formatOccurrence(t time.Time, loc *time.Location, allDay bool) string {
	if allDay {
		return t.In(loc).Format("2006-01-02")
	}
	return t.In(loc).Format(time.RFC3339)
}
