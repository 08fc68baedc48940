package route

import (
	"context"
	"fmt"
	"io"
	"sync"

	charmlog "github.com/charmbracelet/log"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
)

// fakeNet describes one net of the fake environment: a source position,
// sink positions and a bounding box.
type fakeNet struct {
	bb      geom.Rect
	source  [2]int
	sinks   [][2]int
	global  bool
	ignored bool
}

type fakeNetlist struct {
	order []fabric.NetID
	nets  map[fabric.NetID]*fakeNet
	terms map[fabric.NetID][]fabric.RRNodeID
}

func (nl *fakeNetlist) Nets() []fabric.NetID                        { return nl.order }
func (nl *fakeNetlist) SinkCount(net fabric.NetID) int              { return len(nl.nets[net].sinks) }
func (nl *fakeNetlist) PinCount(net fabric.NetID) int               { return len(nl.nets[net].sinks) + 1 }
func (nl *fakeNetlist) Terminals(net fabric.NetID) []fabric.RRNodeID { return nl.terms[net] }
func (nl *fakeNetlist) IsIgnored(net fabric.NetID) bool             { return nl.nets[net].ignored }
func (nl *fakeNetlist) IsGlobal(net fabric.NetID) bool              { return nl.nets[net].global }

type fakeGrid struct{ w, h int }

func (g fakeGrid) Width() int  { return g.w }
func (g fakeGrid) Height() int { return g.h }

type fakeRR struct {
	mu         sync.Mutex
	coords     map[fabric.RRNodeID][2]int
	overuse    []int // consumed one per UpdateAccCostAndOveruse call
	baseCosts  int
	treeCosts  int
	wirelength int
}

func (rr *fakeRR) NumNodes() int { return len(rr.coords) }
func (rr *fakeRR) NodeXLow(n fabric.RRNodeID) int {
	return rr.coords[n][0]
}
func (rr *fakeRR) NodeYLow(n fabric.RRNodeID) int {
	return rr.coords[n][1]
}
func (rr *fakeRR) UpdateBaseCosts(int) {
	rr.mu.Lock()
	rr.baseCosts++
	rr.mu.Unlock()
}
func (rr *fakeRR) UpdateAccCostAndOveruse(float64) fabric.OveruseInfo {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	out := fabric.OveruseInfo{TotalNodes: len(rr.coords)}
	if len(rr.overuse) > 0 {
		out.OverusedNodes = rr.overuse[0]
		rr.overuse = rr.overuse[1:]
	}
	return out
}
func (rr *fakeRR) ApplyTreeCost(*fabric.RouteTree, int) {
	rr.mu.Lock()
	rr.treeCosts++
	rr.mu.Unlock()
}
func (rr *fakeRR) Wirelength() fabric.WirelengthInfo {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return fabric.WirelengthInfo{UsedWirelength: rr.wirelength, AvailableWirelength: 100000}
}

// routerCall records one RouteSink invocation.
type routerCall struct {
	worker int
	net    fabric.NetID
	isink  int
	bb     geom.Rect
}

// fakeEnv wires a fake netlist, grid, RR graph and connection routers into
// a fabric.Env. Router behavior is configured per net.
type fakeEnv struct {
	nl   *fakeNetlist
	grid fakeGrid
	rr   *fakeRR
	env  *fabric.Env

	mu    sync.Mutex
	calls []routerCall
	// failNets: every RouteSink fails outright (disconnected graph).
	failNets map[fabric.NetID]bool
	// retryNets: RouteSink asks for a full-device BB until it gets one.
	retryNets  map[fabric.NetID]bool
	nextWorker int
}

func newFakeEnv(w, h int, nets map[fabric.NetID]*fakeNet) *fakeEnv {
	fe := &fakeEnv{
		grid:      fakeGrid{w, h},
		rr:        &fakeRR{coords: map[fabric.RRNodeID][2]int{}},
		failNets:  map[fabric.NetID]bool{},
		retryNets: map[fabric.NetID]bool{},
	}
	nl := &fakeNetlist{nets: nets, terms: map[fabric.NetID][]fabric.RRNodeID{}}
	next := fabric.RRNodeID(0)
	for id := fabric.NetID(0); len(nl.order) < len(nets); id++ {
		net, ok := nets[id]
		if !ok {
			continue
		}
		nl.order = append(nl.order, id)
		terms := make([]fabric.RRNodeID, 0, len(net.sinks)+1)
		fe.rr.coords[next] = net.source
		terms = append(terms, next)
		next++
		for _, s := range net.sinks {
			fe.rr.coords[next] = s
			terms = append(terms, next)
			next++
		}
		nl.terms[id] = terms
	}
	fe.nl = nl

	state := fabric.NewRoutingState(nl, func(net fabric.NetID) geom.Rect { return nets[net].bb })
	fe.env = &fabric.Env{
		Netlist: nl,
		Grid:    fe.grid,
		RR:      fe.rr,
		State:   state,
		NewRouter: func(heap string) (fabric.ConnectionRouter, error) {
			if heap != "binary" && heap != "bucket" {
				return nil, fmt.Errorf("unknown heap %q", heap)
			}
			fe.mu.Lock()
			w := fe.nextWorker
			fe.nextWorker++
			fe.mu.Unlock()
			return &fakeRouter{env: fe, worker: w}, nil
		},
	}
	return fe
}

func (fe *fakeEnv) fullBB() geom.Rect {
	return geom.Rect{XMin: 0, YMin: 0, XMax: fe.grid.w - 1, YMax: fe.grid.h - 1}
}

func (fe *fakeEnv) record(c routerCall) {
	fe.mu.Lock()
	fe.calls = append(fe.calls, c)
	fe.mu.Unlock()
}

func (fe *fakeEnv) callsFor(net fabric.NetID) []routerCall {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	var out []routerCall
	for _, c := range fe.calls {
		if c.net == net {
			out = append(out, c)
		}
	}
	return out
}

func (fe *fakeEnv) callCount() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return len(fe.calls)
}

type fakeRouter struct {
	env    *fakeEnv
	worker int
	rcv    bool
}

func (r *fakeRouter) SetRCVEnabled(enabled bool) { r.rcv = enabled }

func (r *fakeRouter) RouteSink(net fabric.NetID, isink int, _ fabric.CostParams, bb geom.Rect,
	tree *fabric.RouteTree, stats *fabric.RouterStats) fabric.ConnFlags {
	fe := r.env
	fe.record(routerCall{worker: r.worker, net: net, isink: isink, bb: bb})
	stats.HeapPushes++
	stats.HeapPops++

	if fe.failNets[net] {
		return fabric.ConnFlags{}
	}
	if fe.retryNets[net] && bb != fe.fullBB() {
		return fabric.ConnFlags{RetryWithFullBB: true}
	}
	tree.MarkReached(isink, 1e-9, 1)
	return fabric.ConnFlags{Success: true}
}

// newTestCtx builds an iterCtx over the fake env, the way the runner does
// for its first iteration.
func newTestCtx(fe *fakeEnv, opts Options) *iterCtx {
	factory := func() fabric.ConnectionRouter {
		router, err := fe.env.NewRouter(string(opts.RouterHeap))
		if err != nil {
			panic(err)
		}
		return router
	}
	return &iterCtx{
		ctx:           context.Background(),
		env:           fe.env,
		opts:          opts,
		itry:          1,
		presFac:       opts.FirstIterPresFac,
		crit:          constCriticality(0),
		log:           charmlog.New(io.Discard),
		workers:       newWorkerSlots(opts.NumWorkers, factory),
		netsToRetry:   &retryQueue{},
		decompRetries: newDecompCounter(fe.nl),
	}
}
