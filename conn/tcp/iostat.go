package tcp

import (
	"fmt"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/ValentinKolb/mavconn/conn"
)

// --------------------------------------------------------------------------
// per-connection I/O statistics
// --------------------------------------------------------------------------

// ioStat accumulates byte counters for one connection. Totals and rates
// come from a pair of meters; the same byte counts also feed the global
// prometheus registry so a process exporting metrics sees every link.
type ioStat struct {
	tx gometrics.Meter
	rx gometrics.Meter

	vmTx *vm.Counter
	vmRx *vm.Counter
}

func newIOStat(connID uint64) *ioStat {
	return &ioStat{
		tx:   gometrics.NewMeter(),
		rx:   gometrics.NewMeter(),
		vmTx: vm.GetOrCreateCounter(fmt.Sprintf(`mavconn_tcp_tx_bytes_total{conn="%d"}`, connID)),
		vmRx: vm.GetOrCreateCounter(fmt.Sprintf(`mavconn_tcp_rx_bytes_total{conn="%d"}`, connID)),
	}
}

func (s *ioStat) txAdd(n int) {
	s.tx.Mark(int64(n))
	s.vmTx.Add(n)
}

func (s *ioStat) rxAdd(n int) {
	s.rx.Mark(int64(n))
	s.vmRx.Add(n)
}

// snapshot returns the current totals and one-minute rates.
func (s *ioStat) snapshot() conn.IOStat {
	txs := s.tx.Snapshot()
	rxs := s.rx.Snapshot()
	return conn.IOStat{
		TxTotalBytes: uint64(txs.Count()),
		RxTotalBytes: uint64(rxs.Count()),
		TxSpeed:      txs.Rate1(),
		RxSpeed:      rxs.Rate1(),
	}
}

// stop unregisters the meters from the background rate arbiter.
func (s *ioStat) stop() {
	s.tx.Stop()
	s.rx.Stop()
}
