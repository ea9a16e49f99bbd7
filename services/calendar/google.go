package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"psychology/models"
	"psychology/utils"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type googleCalendarAPI struct {
	svc *gcal.Service
}

// NewGoogleCalendarAPI wraps the Calendar v3 client. Every request carries the
// given HTTP timeout on top of the caller's context.
func NewGoogleCalendarAPI(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) (CalendarAPI, error) {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
	}
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar client: %w", err)
	}
	return &googleCalendarAPI{svc: svc}, nil
}

func (g *googleCalendarAPI) PrimaryCalendar(ctx context.Context) (string, string, error) {
	list, err := g.svc.CalendarList.List().MinAccessRole("owner").Context(ctx).Do()
	if err != nil {
		return "", "", err
	}
	for _, item := range list.Items {
		if item.Primary {
			return item.Id, item.TimeZone, nil
		}
	}
	if len(list.Items) > 0 {
		return list.Items[0].Id, list.Items[0].TimeZone, nil
	}
	return "", "", errors.New("no owned calendar found")
}

func (g *googleCalendarAPI) FreeBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}
	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("free/busy response has no entry for %s", calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy error for %s: %s", calendarID, cal.Errors[0].Reason)
	}

	busy := make([]models.BusyInterval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("bad busy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("bad busy end %q: %w", period.End, err)
		}
		busy = append(busy, models.BusyInterval{Start: start.UTC(), End: end.UTC()})
	}
	return busy, nil
}

func (g *googleCalendarAPI) CreateEvent(ctx context.Context, calendarID string, event EventInput) (string, error) {
	ev := &gcal.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start:       &gcal.EventDateTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: event.TimeZone},
		End:         &gcal.EventDateTime{DateTime: event.End.Format(time.RFC3339), TimeZone: event.TimeZone},
	}
	created, err := g.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// IsRetryable classifies Google API and OAuth failures: 429 and 5xx are
// retried, as are network errors and per-attempt deadlines.
func IsRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return utils.IsRetryableStatus(apiErr.Code)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return utils.IsRetryableStatus(retrieveErr.Response.StatusCode)
	}
	return utils.IsRetryableHTTP(err)
}
