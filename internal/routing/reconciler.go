package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"

	"github.com/signalsfoundry/linkprobe/internal/logging"
	"github.com/signalsfoundry/linkprobe/internal/matrix"
	"github.com/signalsfoundry/linkprobe/model"
)

var (
	// ErrInvalidRoute indicates a routing matrix entry that does not name a
	// usable next hop.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrUnknownNode indicates a node index with no address or substrate.
	ErrUnknownNode = errors.New("unknown node")
)

// Route operation labels reported to the OperationRecorder.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpKeep   = "keep"
)

// OperationRecorder receives counts of route operations.
type OperationRecorder interface {
	ObserveRouteOperations(op string, count int)
}

// Stats summarises one reconciliation pass.
type Stats struct {
	Added   int
	Removed int
	Kept    int
}

func (s *Stats) merge(o Stats) {
	s.Added += o.Added
	s.Removed += o.Removed
	s.Kept += o.Kept
}

// Network is the node set a reconciler operates on. Addresses and
// Substrates are indexed by node index and must have equal length.
type Network struct {
	Addresses  []netip.Addr
	Substrates []Substrate
}

func (n Network) size() (int, error) {
	if len(n.Addresses) != len(n.Substrates) {
		return 0, fmt.Errorf("%w: %d addresses for %d substrates", ErrUnknownNode, len(n.Addresses), len(n.Substrates))
	}
	for i, sub := range n.Substrates {
		if sub == nil {
			return 0, fmt.Errorf("%w: node %d has no routing substrate", ErrUnknownNode, i)
		}
	}
	return len(n.Addresses), nil
}

// Reconciler converges live forwarding tables towards a next-hop matrix.
type Reconciler struct {
	rng     *rand.Rand
	log     logging.Logger
	metrics OperationRecorder
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithRand sets the random source used to pick interfaces for direct routes.
func WithRand(rng *rand.Rand) Option {
	return func(r *Reconciler) { r.rng = rng }
}

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// WithMetrics attaches a recorder for route operation counts.
func WithMetrics(m OperationRecorder) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler builds a Reconciler. Without WithRand it uses a fixed seed.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(1, 1))
	}
	if r.log == nil {
		r.log = logging.Noop()
	}
	return r
}

// InitializeDirectRoutes drops everything but the protected defaults on
// every node and installs one host route per other node, with that node as
// its own next hop and a random non-loopback interface.
func (r *Reconciler) InitializeDirectRoutes(ctx context.Context, net Network) (Stats, error) {
	n, err := net.size()
	if err != nil {
		return Stats{}, err
	}

	var total Stats
	var errs []error
	for i := 0; i < n; i++ {
		t := newTable(net.Substrates[i])
		removed, err := t.truncate()
		total.Removed += removed
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: truncate: %w", i, err))
			continue
		}

		ifaces := net.Substrates[i].Interfaces()
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			iface := 1
			if ifaces > 2 {
				iface = 1 + r.rng.IntN(ifaces-1)
			}
			dst := net.Addresses[j]
			if err := t.add(dst, dst, iface, 0); err != nil {
				errs = append(errs, fmt.Errorf("node %d: direct route to %d: %w", i, j, err))
				continue
			}
			total.Added++
		}
	}

	r.record(total)
	r.log.Info(ctx, "direct routes initialised",
		logging.Int("nodes", n),
		logging.Int("added", total.Added),
		logging.Int("removed", total.Removed),
	)
	return total, errors.Join(errs...)
}

// Reconcile applies the next-hop matrix to every node. The matrix is
// validated up front; an out-of-range entry fails the whole call with
// ErrInvalidRoute before any table is touched. Substrate failures are
// collected per entry and returned together after the pass completes.
func (r *Reconciler) Reconcile(ctx context.Context, net Network, routes matrix.Matrix[int]) (Stats, error) {
	n, err := net.size()
	if err != nil {
		return Stats{}, err
	}
	if err := ValidateMatrix(routes, n); err != nil {
		return Stats{}, err
	}

	var total Stats
	var errs []error
	for i := 0; i < n; i++ {
		st, err := r.reconcileNode(net, routes, i)
		total.merge(st)
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.record(total)
	r.log.Info(ctx, "routing table reconciled",
		logging.Int("nodes", n),
		logging.Int("added", total.Added),
		logging.Int("removed", total.Removed),
		logging.Int("kept", total.Kept),
	)
	if len(errs) > 0 {
		r.log.Warn(ctx, "routing reconciliation incomplete", logging.Int("failures", len(errs)))
	}
	return total, errors.Join(errs...)
}

func (r *Reconciler) reconcileNode(net Network, routes matrix.Matrix[int], i int) (Stats, error) {
	var st Stats
	var errs []error
	t := newTable(net.Substrates[i])

	for j := range net.Addresses {
		if i == j {
			continue
		}
		dst := net.Addresses[j]
		want := net.Addresses[routes[i][j]]

		idxs := t.entries(dst)
		if len(idxs) == 0 {
			if err := t.add(dst, want, model.PrimaryWirelessInterface, 0); err != nil {
				errs = append(errs, fmt.Errorf("node %d: add route to %d: %w", i, j, err))
				continue
			}
			st.Added++
			continue
		}

		// The newest entry decides; anything older for the same
		// destination is stale by construction.
		newest := idxs[len(idxs)-1]
		stale := append([]int(nil), idxs[:len(idxs)-1]...)
		cur := t.routes[newest]
		iface := cur.Interface
		keep := cur.NextHop == want && cur.Metric < 1

		if !keep {
			if err := t.remove(newest); err != nil {
				errs = append(errs, fmt.Errorf("node %d: remove route to %d: %w", i, j, err))
				continue
			}
			st.Removed++
		}
		// Stale duplicates sit below newest, so removing from the top keeps
		// the remaining indices valid.
		for k := len(stale) - 1; k >= 0; k-- {
			if err := t.remove(stale[k]); err != nil {
				errs = append(errs, fmt.Errorf("node %d: remove duplicate route to %d: %w", i, j, err))
				continue
			}
			st.Removed++
		}

		if keep {
			st.Kept++
			continue
		}
		if err := t.add(dst, want, iface, 0); err != nil {
			errs = append(errs, fmt.Errorf("node %d: replace route to %d: %w", i, j, err))
			continue
		}
		st.Added++
	}
	return st, errors.Join(errs...)
}

func (r *Reconciler) record(st Stats) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveRouteOperations(OpAdd, st.Added)
	r.metrics.ObserveRouteOperations(OpRemove, st.Removed)
	r.metrics.ObserveRouteOperations(OpKeep, st.Kept)
}

// ValidateMatrix checks that routes is n×n and that every off-diagonal
// entry names another node. Diagonal entries are not inspected.
func ValidateMatrix(routes matrix.Matrix[int], n int) error {
	if err := routes.RequireSquare(n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	for i := range routes {
		for j, h := range routes[i] {
			if i == j {
				continue
			}
			if h < 0 || h >= n {
				return fmt.Errorf("%w: [%d][%d] = %d is outside [0,%d)", ErrInvalidRoute, i, j, h, n)
			}
			if h == i {
				return fmt.Errorf("%w: [%d][%d] routes node %d through itself", ErrInvalidRoute, i, j, i)
			}
		}
	}
	return nil
}
