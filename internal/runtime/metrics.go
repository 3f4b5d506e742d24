package runtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/transfersol/internal/crypto"
)

// Metrics counts what the runtime processed. A nil *Metrics records nothing.
type Metrics struct {
	transactions  *prometheus.CounterVec
	instructions  *prometheus.CounterVec
	lamportsMoved prometheus.Counter
}

// NewMetrics creates the runtime collectors and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transfersol",
			Name:      "transactions_total",
			Help:      "Processed transactions by result.",
		}, []string{"result"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transfersol",
			Name:      "instructions_total",
			Help:      "Executed top-level instructions by program and result.",
		}, []string{"program", "result"}),
		lamportsMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transfersol",
			Name:      "lamports_moved_total",
			Help:      "Lamports debited by committed transactions.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.transactions, m.instructions, m.lamportsMoved} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeTransaction(err error) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(Classify(err).String()).Inc()
}

func (m *Metrics) observeInstruction(program crypto.Pubkey, err error) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(program.String(), Classify(err).String()).Inc()
}

func (m *Metrics) observeMoved(lamports uint64) {
	if m == nil {
		return
	}
	m.lamportsMoved.Add(float64(lamports))
}
