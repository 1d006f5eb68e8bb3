// Package calendar encodes bookings as an iCalendar feed.
package calendar

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// propertySeriesRule carries the generating rule on the first occurrence of a series.
const propertySeriesRule ical.ComponentProperty = "X-SCHEDULER-SERIES-RULE"

// Renderer implements application.FeedRenderer.
type Renderer struct {
	productID string
	domain    string
	engine    *recurrence.Engine
	now       func() time.Time
}

// NewRenderer returns a renderer issuing UIDs under domain.
func NewRenderer(productID, domain string, engine *recurrence.Engine, now func() time.Time) *Renderer {
	if productID == "" {
		productID = "-//resource-scheduler//bookings//EN"
	}
	if domain == "" {
		domain = "resource-scheduler.local"
	}
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC, recurrence.DefaultHardCap)
	}
	if now == nil {
		now = time.Now
	}
	return &Renderer{productID: productID, domain: domain, engine: engine, now: now}
}

// UID returns the stable event identifier of a booking.
func (r *Renderer) UID(bookingID string) string {
	return fmt.Sprintf("booking-%s@%s", bookingID, r.domain)
}

// Render encodes entries as a VCALENDAR document.
func (r *Renderer) Render(name string, entries []application.FeedEntry) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(r.productID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	stamp := r.now().UTC()
	for _, entry := range entries {
		booking := entry.Booking
		event := cal.AddEvent(r.UID(booking.ID))
		event.SetDtStampTime(stamp)
		event.SetCreatedTime(booking.CreatedAt.UTC())
		event.SetModifiedAt(booking.UpdatedAt.UTC())
		event.SetStartAt(booking.Start.UTC())
		event.SetEndAt(booking.End.UTC())
		event.SetSummary(summary(entry))
		event.SetStatus(eventStatus(booking.Status))
		if entry.Location != "" {
			event.SetLocation(entry.Location)
		}
		if booking.Notes != nil && strings.TrimSpace(*booking.Notes) != "" {
			event.SetDescription(*booking.Notes)
		}
		if booking.SeriesParentID != nil {
			event.SetProperty(ical.ComponentPropertyRelatedTo, r.UID(*booking.SeriesParentID))
		}
		if booking.IsSeriesParent() {
			rule, err := r.engine.RRule(booking.Start, booking.Recurrence, booking.RecurrenceEndAt)
			if err != nil {
				return nil, fmt.Errorf("series rule for %s: %w", booking.ID, err)
			}
			if rule != "" {
				event.SetProperty(propertySeriesRule, rule)
			}
		}
	}
	return []byte(cal.Serialize()), nil
}

func summary(entry application.FeedEntry) string {
	title := entry.ResourceTitle
	if title == "" {
		title = entry.Booking.ResourceID
	}
	if entry.Booking.Status == scheduler.StatusPending {
		return title + " (pending approval)"
	}
	return title
}

func eventStatus(status scheduler.Status) ical.ObjectStatus {
	switch status {
	case scheduler.StatusPending:
		return ical.ObjectStatusTentative
	case scheduler.StatusCancelled:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusConfirmed
	}
}
