// Package clock provides the current_date tool. Models have no reliable
// sense of "now"; anything date-relative ("tomorrow", "next Tuesday") needs
// this anchor first.
package clock

import (
	"fmt"
	"time"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/tool"
)

type currentDateArgs struct {
	IANATimezone string `json:"iana_timezone,omitempty" description:"IANA timezone name such as Europe/Berlin. Defaults to the server's local timezone."`
}

// NewCurrentDateTool returns a tool reporting the current date and time as an
// ISO-8601 timestamp, optionally localized to a requested timezone.
func NewCurrentDateTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"current_date",
		"Get the current date and time as an ISO-8601 timestamp. Call this before answering anything date- or time-relative.",
		currentDateArgs{},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			loc := time.Local
			if tz, ok := args["iana_timezone"].(string); ok && tz != "" {
				var err error
				loc, err = time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
				}
			}
			return time.Now().In(loc).Format(time.RFC3339), nil
		},
	)
}
