// Package graphdump renders the pose graph as Graphviz DOT source for
// external visualization and debugging. Grounded on
// GraphMapper.cpp:writeGraphToFile's call to
// graph_analysis::io::GraphIO::write(..., GRAPHVIZ) — purely diagnostic, no
// part of the mapper's decision procedure reads this output back.
package graphdump

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/slam3d/graphmapper/posegraph"
	"github.com/slam3d/graphmapper/spatialmath"
)

// Option configures Write's output.
type Option func(*options)

type options struct {
	transformMagnitudes bool
}

// WithTransformMagnitudes attaches each edge's translation distance and
// rotation angle as "distance"/"angle" attributes, at the cost of a busier
// rendering. Off by default.
func WithTransformMagnitudes(enabled bool) Option {
	return func(o *options) { o.transformMagnitudes = enabled }
}

// Write renders g as Graphviz DOT source under the given graph name. The pack
// exercises no example of gonum.org/v1/gonum/graph/encoding/dot, and DOT is a
// small enough text format that hand-formatting it directly, with proper
// identifier quoting, is lower risk than an unverified third-party API
// surface for a purely diagnostic feature — see DESIGN.md.
func Write(g *posegraph.PoseGraph, name string) []byte { return WriteWithOptions(g, name) }

// WriteWithOptions is Write with rendering options applied.
func WriteWithOptions(g *posegraph.PoseGraph, name string, opts ...Option) []byte {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph %s {\n", quoteID(name))

	for _, v := range g.Vertices() {
		fmt.Fprintf(&buf, "  %s [label=%s, sensor=%s];\n",
			nodeID(v), strconv.Quote(v.Name), strconv.Quote(v.SensorName()))
	}

	seen := make(map[uint64]bool)
	for _, v := range g.Vertices() {
		for _, e := range g.EdgesOf(v.ID()) {
			if seen[uint64(e.ID())] {
				continue
			}
			seen[uint64(e.ID())] = true
			writeEdge(&buf, e, o)
		}
	}

	buf.WriteString("}\n")
	return buf.Bytes()
}

func writeEdge(buf *bytes.Buffer, e *posegraph.Edge, o options) {
	attrs := []string{
		fmt.Sprintf("sensor=%s", strconv.Quote(e.Sensor)),
		fmt.Sprintf("label=%s", strconv.Quote(e.Label)),
	}
	if o.transformMagnitudes {
		attrs = append(attrs,
			fmt.Sprintf("distance=%s", strconv.FormatFloat(spatialmath.Distance(e.Transform), 'f', 4, 64)),
			fmt.Sprintf("angle=%s", strconv.FormatFloat(e.Transform.RotationAngle(), 'f', 4, 64)),
		)
	}
	fmt.Fprintf(buf, "  %s -> %s [%s];\n", nodeID(e.SourceVertex()), nodeID(e.TargetVertex()), joinAttrs(attrs))
}

func joinAttrs(attrs []string) string {
	out := attrs[0]
	for _, a := range attrs[1:] {
		out += ", " + a
	}
	return out
}

func nodeID(v *posegraph.Vertex) string {
	return fmt.Sprintf("v%d", v.ID())
}

func quoteID(name string) string {
	if name == "" {
		return "posegraph"
	}
	return strconv.Quote(name)
}
