package event

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Getter interface {
	GetEvent(ctx context.Context, id string) (*Event, error)
}

type Handler struct {
	events    Getter
	publicURL string
	log       *zap.SugaredLogger
}

func NewHandler(events Getter, publicURL string, log *zap.SugaredLogger) *Handler {
	return &Handler{events: events, publicURL: strings.TrimRight(publicURL, "/"), log: log}
}

// Calendar serves the .ics download for one event.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	e, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		h.log.Errorw("load event failed", "event_id", id, "err", err)
		http.Error(w, "failed to load event", http.StatusInternalServerError)
		return
	}

	body := BuildCalendar(*e, h.publicURL+"/events/"+e.ID)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", Filename(e.Title)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
