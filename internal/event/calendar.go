package event

import (
	"regexp"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const (
	ProductID = "-//FloBoats//Event Calendar//EN"
	uidDomain = "floboats.com"
)

// BuildCalendar renders e as a single-event iCalendar document. pageURL is the
// public page of the event.
func BuildCalendar(e Event, pageURL string) []byte {
	cal := ics.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ics.MethodPublish)

	ev := cal.AddEvent(e.ID + "@" + uidDomain)
	ev.SetDtStampTime(time.Now().UTC())
	if e.AllDay {
		ev.SetAllDayStartAt(e.Start.UTC())
		ev.SetAllDayEndAt(e.EndOrDefault().UTC())
	} else {
		ev.SetStartAt(e.Start.UTC())
		ev.SetEndAt(e.EndOrDefault().UTC())
	}
	ev.SetSummary(e.Title)

	desc := e.ShortDescription
	if e.RegistrationURL != "" {
		desc += "\n\nRegister: " + e.RegistrationURL
	}
	ev.SetDescription(desc)
	if loc := e.Location(); loc != "" {
		ev.SetLocation(loc)
	}
	if pageURL != "" {
		ev.SetURL(pageURL)
	}
	ev.SetStatus(ics.ObjectStatusConfirmed)

	return []byte(cal.Serialize())
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// Filename turns an event title into the download name of its calendar file.
func Filename(title string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(title), "_") + ".ics"
}
