package campaign

import (
	"fmt"
	"path/filepath"
)

// Paths names every file a campaign reads or writes. All of them share the
// directory <dataDir>/<prefix> and the file prefix <prefix>_<N>_<seed>_.
type Paths struct {
	Dir string

	Routing            string
	Throughput         string
	ThroughputBaseline string
	PSR                string
	PSRBaseline        string

	FlowLog   string
	Positions string
}

// DefaultPrefix is the technology tag used for directory and file names.
const DefaultPrefix = "wifi"

// NewPaths derives the file layout for an n-node network generated from
// seed. An empty prefix means DefaultPrefix.
func NewPaths(dataDir, prefix string, n int, seed uint64) Paths {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dir := filepath.Join(dataDir, prefix)
	base := filepath.Join(dir, fmt.Sprintf("%s_%d_%d_", prefix, n, seed))
	return Paths{
		Dir:                dir,
		Routing:            base + "RoutingTable.txt",
		Throughput:         base + "tht_matrix.txt",
		ThroughputBaseline: base + "tht_init_matrix.txt",
		PSR:                base + "psr_matrix.txt",
		PSRBaseline:        base + "psr_init_matrix.txt",
		FlowLog:            base + "flows.csv",
		Positions:          base + "positions.json",
	}
}
