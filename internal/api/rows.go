package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	rsync "github.com/marcus/rally/internal/sync"
)

// RowsResponse is a page of rows, oldest first.
type RowsResponse struct {
	Rows []models.Document `json:"rows"`
}

// RowResponse is a row as stored, carrying the server's updated_at.
type RowResponse struct {
	Row models.Document `json:"row"`
}

// ChangeEntry is one change feed entry.
type ChangeEntry struct {
	Seq    int64             `json:"seq"`
	Action events.ActionType `json:"action"`
	Doc    models.Document   `json:"doc"`
}

// ChangesResponse carries feed entries and the cursor to resume from.
type ChangesResponse struct {
	Changes []ChangeEntry `json:"changes"`
	LastSeq int64         `json:"last_seq"`
}

func pathTable(r *http.Request) (events.Collection, bool) {
	table := r.PathValue("table")
	return events.Collection(table), events.IsValidCollection(table)
}

func (s *Server) limitParam(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return s.config.PageLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, s.config.PageLimit), true
}

// handleQueryRows serves GET /v1/tables/{table}/rows?after=&match_id=&limit=.
func (s *Server) handleQueryRows(w http.ResponseWriter, r *http.Request) {
	table, ok := pathTable(r)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown table")
		return
	}
	q := rsync.RowQuery{
		Owner:   getUserFromContext(r.Context()).UserID,
		Table:   table,
		MatchID: r.URL.Query().Get("match_id"),
	}
	if v := r.URL.Query().Get("after"); v != "" {
		after, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "after must be an RFC 3339 timestamp")
			return
		}
		q.After = after
	}
	if q.Limit, ok = s.limitParam(r); !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
		return
	}

	rows, err := s.store.QueryRows(r.Context(), q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordRowQuery()
	if rows == nil {
		rows = []models.Document{}
	}
	writeJSON(w, http.StatusOK, RowsResponse{Rows: rows})
}

// handlePutRow serves PUT /v1/tables/{table}/rows/{id}.
func (s *Server) handlePutRow(w http.ResponseWriter, r *http.Request) {
	table, ok := pathTable(r)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown table")
		return
	}
	id := r.PathValue("id")

	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if doc.ID != id {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body id does not match path")
		return
	}

	stored, err := s.store.PutRow(r.Context(), getUserFromContext(r.Context()).UserID, table, doc)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordRowWrite()
	writeJSON(w, http.StatusOK, RowResponse{Row: stored})
}

// handleDeleteRow serves DELETE /v1/tables/{table}/rows/{id}.
func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	table, ok := pathTable(r)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown table")
		return
	}
	tomb, err := s.store.DeleteRow(r.Context(), getUserFromContext(r.Context()).UserID, table, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordRowWrite()
	writeJSON(w, http.StatusOK, RowResponse{Row: tomb})
}

// handleChanges serves GET /v1/tables/{table}/changes?after_seq=&match_id=&wait=.
// Without after_seq it returns the current head so a subscriber can start
// from now. With wait it blocks until a change arrives or the wait ends.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	table, ok := pathTable(r)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown table")
		return
	}
	params := r.URL.Query()

	if params.Get("after_seq") == "" {
		head, err := s.store.HeadSeq(r.Context())
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ChangesResponse{Changes: []ChangeEntry{}, LastSeq: head})
		return
	}

	afterSeq, err := strconv.ParseInt(params.Get("after_seq"), 10, 64)
	if err != nil || afterSeq < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "after_seq must be a non-negative integer")
		return
	}
	var wait time.Duration
	if v := params.Get("wait"); v != "" {
		wait, err = time.ParseDuration(v)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "wait must be a duration")
			return
		}
		wait = min(wait, s.config.MaxFeedWait)
	}

	q := rsync.ChangeQuery{
		Owner:    getUserFromContext(r.Context()).UserID,
		Table:    table,
		MatchID:  params.Get("match_id"),
		AfterSeq: afterSeq,
		Limit:    s.config.PageLimit,
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	for waited := false; ; {
		// Take the signal before querying so a commit in between is not missed.
		signal := s.store.ChangeSignal()
		changes, err := s.store.Changes(r.Context(), q)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		if len(changes) > 0 || timeout == nil {
			writeJSON(w, http.StatusOK, changesResponse(changes, afterSeq))
			return
		}
		if !waited {
			s.metrics.RecordFeedWait()
			waited = true
		}
		select {
		case <-signal:
		case <-timeout:
			writeJSON(w, http.StatusOK, changesResponse(nil, afterSeq))
			return
		case <-r.Context().Done():
			return
		}
	}
}

func changesResponse(changes []rsync.Change, afterSeq int64) ChangesResponse {
	resp := ChangesResponse{Changes: make([]ChangeEntry, 0, len(changes)), LastSeq: afterSeq}
	for _, c := range changes {
		resp.Changes = append(resp.Changes, ChangeEntry{Seq: c.Seq, Action: c.Action, Doc: c.Doc})
		resp.LastSeq = max(resp.LastSeq, c.Seq)
	}
	return resp
}
