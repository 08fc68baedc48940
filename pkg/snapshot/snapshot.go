// Package snapshot persists per-iteration routing results.
//
// When save_routing_per_iteration is enabled the router serializes the
// complete routing after every iteration, keyed by run ID and iteration
// number. Three backends are provided:
//   - file: one file per iteration under a directory, for local runs
//   - redis: shared store for multi-instance experiments
//   - mongo: archival store for later analysis of convergence behavior
//
// # Usage
//
//	store, err := snapshot.NewFileStore("snapshots")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	data, _ := json.Marshal(record)
//	store.Save(ctx, snapshot.Key(runID, itry), data)
package snapshot

import (
	"context"
	"fmt"

	"github.com/matzehuels/gridroute/pkg/fabric"
)

// Store persists opaque snapshot blobs under string keys.
type Store interface {
	// Save writes data under key, overwriting any previous value.
	Save(ctx context.Context, key string, data []byte) error
	// Load reads the blob stored under key. The second return is false when
	// the key does not exist.
	Load(ctx context.Context, key string) ([]byte, bool, error)
	// Close releases backend resources.
	Close() error
}

// Key builds the canonical snapshot key for one iteration of a run.
func Key(runID string, itry int) string {
	return fmt.Sprintf("%s/iteration_%03d", runID, itry)
}

// NetRouting is the serialized routing of one net.
type NetRouting struct {
	Net          fabric.NetID `json:"net"`
	ReachedSinks []int        `json:"reached_sinks"`
	SinkDelays   []float64    `json:"sink_delays"`
	Wirelength   int          `json:"wirelength"`
}

// Record is the serialized result of one routing iteration.
type Record struct {
	RunID         string       `json:"run_id"`
	Iteration     int          `json:"iteration"`
	OverusedNodes int          `json:"overused_nodes"`
	Wirelength    int          `json:"wirelength"`
	Nets          []NetRouting `json:"nets"`
}

// RecordFromState captures the current routing of every net.
func RecordFromState(runID string, itry int, state *fabric.RoutingState, overused, wirelength int) Record {
	rec := Record{
		RunID:         runID,
		Iteration:     itry,
		OverusedNodes: overused,
		Wirelength:    wirelength,
	}
	for _, net := range state.Nets() {
		tree := state.Tree(net)
		if tree == nil {
			continue
		}
		nr := NetRouting{
			Net:          net,
			ReachedSinks: tree.ReachedSinks(),
			Wirelength:   tree.Wirelength(),
		}
		for _, isink := range nr.ReachedSinks {
			nr.SinkDelays = append(nr.SinkDelays, tree.SinkDelay(isink))
		}
		rec.Nets = append(rec.Nets, nr)
	}
	return rec
}
