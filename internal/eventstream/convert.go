package eventstream

import (
	"fmt"
	"time"

	"github.com/banshee-data/gridlock/internal/grid"
	"github.com/banshee-data/gridlock/internal/monitor"
	"google.golang.org/protobuf/types/known/structpb"
)

// Filter selects which events a stream delivers. The zero value passes
// everything.
type Filter struct {
	Kinds   []monitor.Kind
	Actor   int
	Backlog bool // replay the sink's retained log before live events
}

func (f Filter) match(ev monitor.Event) bool {
	if f.Actor != monitor.NoActor && ev.Actor != f.Actor {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

func (f Filter) toStruct() (*structpb.Struct, error) {
	kinds := make([]any, len(f.Kinds))
	for i, k := range f.Kinds {
		kinds[i] = k.String()
	}
	return structpb.NewStruct(map[string]any{
		"kinds":   kinds,
		"actor":   f.Actor,
		"backlog": f.Backlog,
	})
}

func filterFromStruct(s *structpb.Struct) (Filter, error) {
	var f Filter
	fields := s.GetFields()
	if v, ok := fields["actor"]; ok {
		f.Actor = int(v.GetNumberValue())
	}
	if v, ok := fields["backlog"]; ok {
		f.Backlog = v.GetBoolValue()
	}
	if v, ok := fields["kinds"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			k, err := monitor.ParseKind(item.GetStringValue())
			if err != nil {
				return Filter{}, err
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	return f, nil
}

func eventToStruct(ev monitor.Event) (*structpb.Struct, error) {
	m := map[string]any{
		"seq":     ev.Seq,
		"frame":   ev.Frame,
		"kind":    ev.Kind.String(),
		"message": ev.Message,
		"actor":   ev.Actor,
		"time":    ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Cell != nil {
		m["cell"] = map[string]any{"row": ev.Cell.Row, "col": ev.Cell.Col}
	}
	return structpb.NewStruct(m)
}

// EventFromStruct decodes an event sent by StreamEvents.
func EventFromStruct(s *structpb.Struct) (monitor.Event, error) {
	fields := s.GetFields()
	kind, err := monitor.ParseKind(fields["kind"].GetStringValue())
	if err != nil {
		return monitor.Event{}, err
	}
	ev := monitor.Event{
		Seq:     uint64(fields["seq"].GetNumberValue()),
		Frame:   uint64(fields["frame"].GetNumberValue()),
		Kind:    kind,
		Message: fields["message"].GetStringValue(),
		Actor:   int(fields["actor"].GetNumberValue()),
	}
	if ts := fields["time"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return monitor.Event{}, fmt.Errorf("bad event time %q: %w", ts, err)
		}
		ev.Time = t
	}
	if cell := fields["cell"].GetStructValue(); cell != nil {
		cf := cell.GetFields()
		ev.Cell = &grid.Position{
			Row: int(cf["row"].GetNumberValue()),
			Col: int(cf["col"].GetNumberValue()),
		}
	}
	return ev, nil
}

func snapshotToStruct(snap grid.Snapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"rows":   snap.Rows,
		"cols":   snap.Cols,
		"layout": snap.String(),
		"cars":   snap.Count(grid.Car),
		"walls":  snap.Count(grid.Wall),
	})
}

func waitingToStruct(waiting map[int]bool) (*structpb.Struct, error) {
	w := make(map[string]any, len(waiting))
	for actor, v := range waiting {
		w[fmt.Sprint(actor)] = v
	}
	return structpb.NewStruct(map[string]any{"waiting": w})
}
