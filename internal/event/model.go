package event

import (
	"strings"
	"time"
)

type Event struct {
	ID               string     `json:"id"`
	Slug             string     `json:"slug"`
	Title            string     `json:"title"`
	ShortDescription string     `json:"short_description"`
	Start            time.Time  `json:"event_start"`
	End              *time.Time `json:"event_end"`
	AllDay           bool       `json:"all_day"`
	LocationName     string     `json:"location_name"`
	LocationAddress  string     `json:"location_address"`
	LocationCity     string     `json:"location_city"`
	LocationState    string     `json:"location_state"`
	LocationZip      string     `json:"location_zip"`
	RegistrationURL  string     `json:"registration_url"`
}

// DefaultDuration applies to events published without an end time.
const DefaultDuration = 2 * time.Hour

func (e *Event) EndOrDefault() time.Time {
	if e.End != nil {
		return *e.End
	}
	return e.Start.Add(DefaultDuration)
}

// Location renders "name, address, city, state zip", skipping blank parts.
func (e *Event) Location() string {
	stateZip := strings.TrimSpace(e.LocationState + " " + e.LocationZip)
	var parts []string
	for _, p := range []string{e.LocationName, e.LocationAddress, e.LocationCity, stateZip} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
