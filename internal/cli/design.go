package cli

import (
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/gridroute/pkg/errors"
	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
	"github.com/matzehuels/gridroute/pkg/route"
)

// Design is a placed design description loaded from a TOML file: the device
// grid, the nets with their terminal positions, and optional router options.
//
// Example:
//
//	[grid]
//	width = 30
//	height = 30
//
//	[router]
//	num_workers = 4
//	max_router_iterations = 30
//
//	[[net]]
//	name = "clk"
//	source = [2, 2]
//	sinks = [[5, 5], [20, 8]]
//	global = true
type Design struct {
	Grid   GridConfig  `toml:"grid"`
	Router tomlOptions `toml:"router"`
	Nets   []NetConfig `toml:"net"`
}

// GridConfig is the device size.
type GridConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

// NetConfig describes one net of the design.
type NetConfig struct {
	Name    string   `toml:"name"`
	Source  [2]int   `toml:"source"`
	Sinks   [][2]int `toml:"sinks"`
	Global  bool     `toml:"global"`
	Ignored bool     `toml:"ignored"`
}

// tomlOptions wraps route.Options so absent keys keep their defaults.
type tomlOptions struct {
	route.Options
}

// LoadDesign reads and validates a design file.
func LoadDesign(path string) (*Design, error) {
	d := &Design{Router: tomlOptions{route.DefaultOptions()}}
	if _, err := toml.DecodeFile(path, d); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "reading design %s", path)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Design) validate() error {
	if d.Grid.Width < 1 || d.Grid.Height < 1 {
		return errors.New(errors.ErrCodeInvalidConfig, "grid must be at least 1x1, got %dx%d", d.Grid.Width, d.Grid.Height)
	}
	for i, net := range d.Nets {
		if len(net.Sinks) == 0 {
			return errors.New(errors.ErrCodeInvalidNetlist, "net %q has no sinks", netName(net, i))
		}
		for _, p := range append([][2]int{net.Source}, net.Sinks...) {
			if p[0] < 0 || p[0] >= d.Grid.Width || p[1] < 0 || p[1] >= d.Grid.Height {
				return errors.New(errors.ErrCodeInvalidNetlist, "net %q has terminal %v outside the %dx%d grid",
					netName(net, i), p, d.Grid.Width, d.Grid.Height)
			}
		}
	}
	return nil
}

func netName(net NetConfig, i int) string {
	if net.Name != "" {
		return net.Name
	}
	return "net#" + strconv.Itoa(i)
}

// designNetlist adapts a Design to fabric.Netlist. Terminal RR nodes are
// numbered sequentially across nets, source first.
type designNetlist struct {
	d     *Design
	order []fabric.NetID
	terms map[fabric.NetID][]fabric.RRNodeID
}

func (nl *designNetlist) Nets() []fabric.NetID                        { return nl.order }
func (nl *designNetlist) SinkCount(net fabric.NetID) int              { return len(nl.d.Nets[net].Sinks) }
func (nl *designNetlist) PinCount(net fabric.NetID) int               { return len(nl.d.Nets[net].Sinks) + 1 }
func (nl *designNetlist) Terminals(net fabric.NetID) []fabric.RRNodeID { return nl.terms[net] }
func (nl *designNetlist) IsIgnored(net fabric.NetID) bool             { return nl.d.Nets[net].Ignored }
func (nl *designNetlist) IsGlobal(net fabric.NetID) bool              { return nl.d.Nets[net].Global }

type designGrid struct{ w, h int }

func (g designGrid) Width() int  { return g.w }
func (g designGrid) Height() int { return g.h }

// BuildEnv assembles a routing environment for the design, backed by the
// built-in direct connection router. The real flow plugs in the maze router;
// this environment is what the CLI smoke-routes designs with.
func (d *Design) BuildEnv() *fabric.Env {
	nl := &designNetlist{d: d, terms: map[fabric.NetID][]fabric.RRNodeID{}}
	rr := &designRR{coords: nil}
	for i := range d.Nets {
		id := fabric.NetID(i)
		nl.order = append(nl.order, id)
		terms := []fabric.RRNodeID{rr.addNode(d.Nets[i].Source)}
		for _, s := range d.Nets[i].Sinks {
			terms = append(terms, rr.addNode(s))
		}
		nl.terms[id] = terms
	}

	grid := designGrid{d.Grid.Width, d.Grid.Height}
	loadBB := func(net fabric.NetID, bbFac int) geom.Rect {
		bb := terminalBB(d.Nets[net])
		return geom.Rect{
			XMin: max(0, bb.XMin-bbFac),
			YMin: max(0, bb.YMin-bbFac),
			XMax: min(grid.w-1, bb.XMax+bbFac),
			YMax: min(grid.h-1, bb.YMax+bbFac),
		}
	}

	state := fabric.NewRoutingState(nl, func(net fabric.NetID) geom.Rect {
		return loadBB(net, d.Router.BBFactor)
	})
	rr.state = state
	rr.nets = nl.order

	return &fabric.Env{
		Netlist:     nl,
		Grid:        grid,
		RR:          rr,
		State:       state,
		NewRouter:   newDirectRouter(rr, nl),
		LoadRouteBB: loadBB,
	}
}

// terminalBB is the tightest box around a net's terminals.
func terminalBB(net NetConfig) geom.Rect {
	bb := geom.Rect{XMin: net.Source[0], YMin: net.Source[1], XMax: net.Source[0], YMax: net.Source[1]}
	for _, s := range net.Sinks {
		bb.XMin = min(bb.XMin, s[0])
		bb.YMin = min(bb.YMin, s[1])
		bb.XMax = max(bb.XMax, s[0])
		bb.YMax = max(bb.YMax, s[1])
	}
	return bb
}
