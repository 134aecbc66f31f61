package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/campa/internal/core"
)

// parseAPIDate accepts the export format ("02/01/2006 15:04" or
// "02/01/2006", in the service time zone) and RFC 3339. A date without a
// time is the start of that day unless endOfDay is set.
func (s *Server) parseAPIDate(text string, endOfDay bool) (time.Time, error) {
	loc := s.service.Location()
	text = strings.TrimSpace(text)
	if t := core.ParseDate(text, loc); t != nil {
		if endOfDay && len(text) == len("02/01/2006") {
			return t.AddDate(0, 0, 1).Add(-time.Millisecond), nil
		}
		return *t, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, errors.Join(errInvalidDate, errors.New(text))
}

// parsePeriod reads the from and to query parameters.
func (s *Server) parsePeriod(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	return s.periodFrom(q.Get("from"), q.Get("to"))
}

func (s *Server) periodFrom(from, to string) (time.Time, time.Time, error) {
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, errors.Join(errInvalidDate, errors.New("from and to are required"))
	}
	start, err := s.parseAPIDate(from, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := s.parseAPIDate(to, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// parseIntParam parses a query parameter as int, returning def if not
// present or invalid.
func parseIntParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// periodRequest is the body of the purge and archive endpoints.
type periodRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// writeResult writes a core.Result. A Failure is reported with 422 since
// the request itself was well formed.
func writeResult(w http.ResponseWriter, res core.Result, extra map[string]any) {
	status := http.StatusOK
	body := map[string]any{}
	switch v := res.(type) {
	case core.Success:
		body["state"], body["message"], body["tag"] = "success", v.Message, v.Tag
	case core.Failure:
		status = http.StatusUnprocessableEntity
		body["state"], body["message"] = "failure", v.Message
	case core.Pending:
		status = http.StatusAccepted
		body["state"] = "pending"
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSONStatus(w, status, body)
}
