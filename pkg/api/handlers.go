package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/srodi/waitlens/pkg/types"
)

type subjectsResponse struct {
	Instance string   `json:"instance"`
	Capacity int      `json:"capacity"`
	Tracked  int      `json:"tracked"`
	IDs      []uint32 `json:"ids"`
}

type countersResponse struct {
	Instance   string               `json:"instance"`
	Ledger     types.LedgerCounters `json:"ledger"`
	QueueDrops uint64               `json:"queue_drops"`
}

type unitInfo struct {
	Name     string `json:"name"`
	Scale    string `json:"scale"`
	Size     int    `json:"size"`
	Observed int    `json:"observed"`
	// OutOfRange counts samples addressed past Size.
	OutOfRange uint64 `json:"out_of_range"`
	// Errors sums failed readings over every unit, observed or not.
	Errors uint64 `json:"errors"`
}

type summaryMessage struct {
	Table   string              `json:"table"`
	Summary types.SummaryRecord `json:"summary"`
}

// listSubjects lists tracked ids. With ?category=<name> it lists only the
// subjects that accumulated time there, largest first.
func (s *Server) listSubjects(w http.ResponseWriter, r *http.Request) {
	ids := s.opts.Store.IDs()
	if name := r.URL.Query().Get("category"); name != "" {
		c, err := types.ParseCategory(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ids = s.byCategory(ids, c)
	}
	if ids == nil {
		ids = []uint32{}
	}
	writeJSON(w, http.StatusOK, subjectsResponse{
		Instance: s.opts.InstanceID,
		Capacity: s.opts.Store.Capacity(),
		Tracked:  len(ids),
		IDs:      ids,
	})
}

func (s *Server) byCategory(ids []uint32, c types.Category) []uint32 {
	spent := make(map[uint32]uint64, len(ids))
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.opts.Store.Lookup(id)
		if !ok || rec.Duration(c) == 0 {
			continue
		}
		spent[id] = rec.Duration(c)
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool { return spent[out[i]] > spent[out[j]] })
	return out
}

func (s *Server) getSubject(w http.ResponseWriter, r *http.Request) {
	pid, ok := parseID(w, mux.Vars(r)["pid"])
	if !ok {
		return
	}
	rec, found := s.opts.Store.Lookup(pid)
	if !found {
		writeError(w, http.StatusNotFound, "subject not tracked")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) counters(w http.ResponseWriter, _ *http.Request) {
	resp := countersResponse{Instance: s.opts.InstanceID, Ledger: s.opts.Store.Counters()}
	if s.opts.QueueDrops != nil {
		resp.QueueDrops = s.opts.QueueDrops()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listUnits(w http.ResponseWriter, _ *http.Request) {
	out := make([]unitInfo, 0, len(s.units))
	for name, u := range s.units {
		t := u.Reducer.Table()
		var errs uint64
		for id := 0; id < t.Size(); id++ {
			errs += t.Errors(uint32(id))
		}
		out = append(out, unitInfo{
			Name:       name,
			Scale:      u.Scale,
			Size:       t.Size(),
			Observed:   len(t.IDs()),
			OutOfRange: t.OutOfRange(),
			Errors:     errs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) unitOr404(w http.ResponseWriter, r *http.Request) (Unit, bool) {
	u, ok := s.units[mux.Vars(r)["table"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown unit table")
	}
	return u, ok
}

func (s *Server) listUnitRecords(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unitOr404(w, r)
	if !ok {
		return
	}
	recs := u.Reducer.Table().Snapshot()
	if recs == nil {
		recs = []types.UnitRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getUnit(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unitOr404(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	rec, found := u.Reducer.Table().Lookup(id)
	if !found {
		writeError(w, http.StatusNotFound, "unit not observed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unitOr404(w, r)
	if !ok {
		return
	}
	sum, found := u.Reducer.Summary()
	if !found {
		// no reduction has seen data yet
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, summaryMessage{Table: u.Reducer.Table().Name(), Summary: sum})
}

func parseID(w http.ResponseWriter, raw string) (uint32, bool) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint32(v), true
}
