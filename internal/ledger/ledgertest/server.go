// Package ledgertest runs an in-memory ledger service speaking the paginated
// row contract, for tests of the client, retrieval and pipeline layers.
package ledgertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ledger-query-workers/internal/ledger"
)

// FilterFunc applies server-side filtering. It returns the rows to serve and
// any filter warnings.
type FilterFunc func(rows []ledger.Row, q url.Values) ([]ledger.Row, []string)

type Server struct {
	*httptest.Server

	Source string

	mu        sync.Mutex
	columns   []string
	rows      []ledger.Row
	filter    FilterFunc
	failPages map[int]int
	delay     time.Duration

	unfiltered atomic.Int64
	filtered   atomic.Int64
}

// NewServer serves rows for source. Filtered requests get 501 until a
// FilterFunc is installed.
func NewServer(source string, columns []string, rows []ledger.Row) *Server {
	s := &Server{
		Source:    source,
		columns:   columns,
		rows:      rows,
		failPages: map[int]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) SetRows(rows []ledger.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

func (s *Server) SetColumns(columns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = columns
}

func (s *Server) SetFilter(f FilterFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// FailPage makes the next n requests for page answer 503.
func (s *Server) FailPage(page, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPages[page] = n
}

// Requests returns how many unfiltered and filtered page requests arrived, failed ones included.
func (s *Server) Requests() (unfiltered, filtered int) {
	return int(s.unfiltered.Load()), int(s.filtered.Load())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	want := "/sources/" + s.Source + "/rows"
	if r.URL.Path != want {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	isFiltered := false
	for k := range q {
		if k != "page" && k != "pageSize" {
			isFiltered = true
			break
		}
	}

	s.mu.Lock()
	delay := s.delay
	remaining := s.failPages[page]
	if remaining > 0 {
		s.failPages[page] = remaining - 1
	}
	rows := s.rows
	columns := s.columns
	filter := s.filter
	s.mu.Unlock()

	if isFiltered {
		s.filtered.Add(1)
	} else {
		s.unfiltered.Add(1)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if remaining > 0 {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	var warnings []string
	if isFiltered {
		if filter == nil {
			http.Error(w, `{"error":"filter_unsupported"}`, http.StatusNotImplemented)
			return
		}
		rows, warnings = filter(rows, q)
	}

	total := len(rows)
	totalPages := (total + pageSize - 1) / pageSize
	from := page * pageSize
	if from > total {
		from = total
	}
	to := from + pageSize
	if to > total {
		to = total
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ledger.Page{
		Rows:           rows[from:to],
		TotalCount:     total,
		TotalPages:     totalPages,
		ColumnNames:    columns,
		FilterWarnings: warnings,
	})
}

// Config returns a client config pointed at the server.
func (s *Server) Config(pageSize int) ledger.Config {
	return ledger.Config{
		BaseURL:  strings.TrimRight(s.URL, "/"),
		Source:   s.Source,
		PageSize: pageSize,
		Timeout:  5 * time.Second,
	}
}
