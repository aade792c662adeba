package api

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

type streamFrame struct {
	Instance  string           `json:"instance"`
	Sent      time.Time        `json:"sent"`
	Summaries []summaryMessage `json:"summaries"`
}

// frame collects every table that has a summary. It returns nil when none do.
func (s *Server) frame(now time.Time) []byte {
	f := streamFrame{Instance: s.opts.InstanceID, Sent: now}
	for name, u := range s.units {
		if sum, ok := u.Reducer.Summary(); ok {
			f.Summaries = append(f.Summaries, summaryMessage{Table: name, Summary: sum})
		}
	}
	if len(f.Summaries) == 0 {
		return nil
	}
	sort.Slice(f.Summaries, func(i, j int) bool { return f.Summaries[i].Table < f.Summaries[j].Table })
	msg, err := json.Marshal(f)
	if err != nil {
		s.log.Error("ws: encoding frame failed", "error", err)
		return nil
	}
	return msg
}

func (s *Server) publish(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if msg := s.frame(now); msg != nil {
				s.hub.Broadcast(msg)
			}
		}
	}
}
