package pos

import (
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
)

// zeroDate is what the POS returns for unset dates
const zeroDate = "0000-00-00 00:00:00"

// parseDate parses a POS date in the backend time zone and returns it in UTC.
// Empty and zero dates resolve to now.
func parseDate(backend *connector.Backend, raw string, now time.Time) time.Time {
	if raw == "" || raw == zeroDate {
		return now.UTC()
	}
	t, err := time.ParseInLocation(appconnector.POSDateLayout, raw, backend.TimeLocation())
	if err != nil {
		if t, err = time.Parse(time.RFC3339, raw); err != nil {
			return now.UTC()
		}
	}
	return t.UTC()
}

// formatDate formats t in the POS layout
func formatDate(t time.Time) string {
	return t.UTC().Format(appconnector.POSDateLayout)
}

// mapDates maps the creation and modification dates every POS entity carries
func mapDates(backend *connector.Backend, record connector.Record, values connector.Values) {
	now := time.Now()
	values["date_add"] = formatDate(parseDate(backend, record.String("created_at"), now))
	values["date_upd"] = formatDate(parseDate(backend, record.String("updated_at"), now))
}
