package route

import (
	"context"
	"io"
	"os"
	"testing"

	charmlog "github.com/charmbracelet/log"

	"github.com/matzehuels/gridroute/pkg/errors"
	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
	"github.com/matzehuels/gridroute/pkg/snapshot"
)

func testRunner(fe *fakeEnv, opts Options) *Runner {
	return &Runner{
		Env:          fe.env,
		Opts:         opts,
		Logger:       charmlog.New(io.Discard),
		DebugLogFile: "-",
	}
}

func TestRunEmptyNetlist(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{})
	opts := DefaultOptions()
	opts.NumWorkers = 1

	ok, err := testRunner(fe, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("Run = false for an empty netlist, want trivial success")
	}
	if fe.callCount() != 0 {
		t.Errorf("connection router invoked %d times, want 0", fe.callCount())
	}
}

func TestRunSingleNet(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{5, 5}}},
	})
	opts := DefaultOptions()
	opts.NumWorkers = 1

	ok, err := testRunner(fe, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("Run = false, want success")
	}
	if fe.callCount() != 1 {
		t.Errorf("connection router invoked %d times, want exactly 1", fe.callCount())
	}
}

func TestRunRetryWithFullBB(t *testing.T) {
	// A second, well-behaved net keeps the iteration productive while net 0
	// waits for its full-device retry.
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{2, 2, 5, 5}, source: [2]int{2, 2}, sinks: [][2]int{{4, 4}}},
		1: {bb: geom.Rect{7, 7, 9, 9}, source: [2]int{7, 7}, sinks: [][2]int{{8, 8}}},
	})
	fe.retryNets[0] = true
	opts := DefaultOptions()
	opts.NumWorkers = 1

	ok, err := testRunner(fe, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("Run = false, want success after full-BB retry")
	}

	calls := fe.callsFor(0)
	if len(calls) != 2 {
		t.Fatalf("router invoked %d times, want 2 (retry, then full BB)", len(calls))
	}
	if calls[0].bb != (geom.Rect{2, 2, 5, 5}) {
		t.Errorf("first call bb = %v, want original box", calls[0].bb)
	}
	if calls[1].bb != fe.fullBB() {
		t.Errorf("second call bb = %v, want full device", calls[1].bb)
	}
	if got := fe.env.State.RouteBB(0); got != fe.fullBB() {
		t.Errorf("final RouteBB = %v, want full device", got)
	}
}

func TestRunUnroutable(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{5, 5}}},
	})
	fe.failNets[0] = true
	opts := DefaultOptions()
	opts.NumWorkers = 1

	ok, err := testRunner(fe, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok {
		t.Error("Run = true for an unroutable net")
	}
}

func TestRunUnknownHeap(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{})
	opts := DefaultOptions()
	opts.RouterHeap = "quantum"

	_, err := testRunner(fe, opts).Run(context.Background())
	if err == nil {
		t.Fatal("Run accepted an unknown heap type")
	}
	if !errors.Is(err, errors.ErrCodeUnknownHeap) {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeUnknownHeap)
	}
}

func TestRunCancelled(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{5, 5}}},
	})
	opts := DefaultOptions()
	opts.NumWorkers = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := testRunner(fe, opts).Run(ctx)
	if ok {
		t.Error("Run = true on a cancelled context")
	}
	if !errors.Is(err, errors.ErrCodeAborted) {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.ErrCodeAborted)
	}
}

func TestRunSavesSnapshots(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{5, 5}}},
	})
	opts := DefaultOptions()
	opts.NumWorkers = 1
	opts.SaveRoutingPerIteration = true

	store, err := snapshot.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r := testRunner(fe, opts)
	r.Snapshots = store
	r.RunID = "test-run"

	ok, err := r.Run(context.Background())
	if err != nil || !ok {
		t.Fatalf("Run: ok=%v err=%v", ok, err)
	}

	data, found, err := store.Load(context.Background(), snapshot.Key("test-run", 1))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("iteration 1 snapshot not saved")
	}
	if len(data) == 0 {
		t.Error("snapshot is empty")
	}
}

func TestRunSerialFallback(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 4, 9}, source: [2]int{1, 1}, sinks: [][2]int{{2, 5}}},
		1: {bb: geom.Rect{5, 0, 9, 9}, source: [2]int{8, 1}, sinks: [][2]int{{8, 5}}},
	})
	opts := DefaultOptions()
	opts.NumWorkers = 1
	opts.UsePartitionTree = false

	ok, err := testRunner(fe, opts).Run(context.Background())
	if err != nil || !ok {
		t.Fatalf("Run: ok=%v err=%v", ok, err)
	}
	if fe.callCount() != 2 {
		t.Errorf("router invoked %d times, want 2", fe.callCount())
	}
}

func TestRunExitAfterFirstIteration(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{5, 5}}},
	})
	// Keep the first iteration congested so the run cannot converge, then
	// check the requested exit still happens.
	fe.rr.overuse = []int{3}
	opts := DefaultOptions()
	opts.NumWorkers = 1
	opts.ExitAfterFirstRoutingIteration = true

	ok, err := testRunner(fe, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok {
		t.Error("Run = true without a legal routing")
	}
	if fe.callCount() != 1 {
		t.Errorf("router invoked %d times, want 1 iteration's worth", fe.callCount())
	}
}

func TestRunBBNeverShrinks(t *testing.T) {
	fe := newFakeEnv(20, 20, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{5, 5, 10, 10}, source: [2]int{5, 5}, sinks: [][2]int{{8, 8}}},
	})
	// Congested for a few iterations so bounding boxes get updated.
	fe.rr.overuse = []int{5, 4, 3}
	opts := DefaultOptions()
	opts.NumWorkers = 1
	opts.RouteBBUpdate = BBUpdateDynamic
	opts.MaxRouterIterations = 4

	prev := fe.env.State.RouteBB(0)
	r := testRunner(fe, opts)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := fe.env.State.RouteBB(0)
	if got.XMin > prev.XMin || got.YMin > prev.YMin || got.XMax < prev.XMax || got.YMax < prev.YMax {
		t.Errorf("bounding box shrank: %v -> %v", prev, got)
	}
}

func TestTryParallelRoute(t *testing.T) {
	fe := newFakeEnv(10, 10, map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{5, 5}}},
	})
	opts := DefaultOptions()
	opts.NumWorkers = 1

	t.Cleanup(func() { _ = os.Remove("partition_tree.log") })
	ok, err := TryParallelRoute(context.Background(), fe.env, opts, charmlog.New(io.Discard))
	if err != nil || !ok {
		t.Fatalf("TryParallelRoute: ok=%v err=%v", ok, err)
	}
}
