package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norn/logx"
)

type BlockRejectedReason string

var (
	BlockBadHeader     BlockRejectedReason = "bad_header"
	BlockBadProof      BlockRejectedReason = "bad_proof"
	BlockBadSlot       BlockRejectedReason = "bad_slot"
	BlockBadTransition BlockRejectedReason = "bad_transition"
	BlockOrphanExpired BlockRejectedReason = "orphan_expired"
	BlockRejectedOther BlockRejectedReason = "other"
)

type TxRejectedReason string

var (
	TxInvalidSignature    TxRejectedReason = "invalid_signature"
	TxInvalidNonce        TxRejectedReason = "invalid_nonce"
	TxInsufficientBalance TxRejectedReason = "insufficient_balance"
	TxMempoolFull         TxRejectedReason = "mempool_full"
	TxDuplicated          TxRejectedReason = "duplicated"
	TxRejectedUnknown     TxRejectedReason = "other"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds  prometheus.Gauge
	mempoolSize        prometheus.Gauge
	tipHeight          prometheus.Gauge
	tipSlot            prometheus.Gauge
	orphanPoolSize     prometheus.Gauge
	appendedBlockCount prometheus.Counter
	rejectedBlockCount *prometheus.CounterVec
	rejectedTxCount    *prometheus.CounterVec
	reorgCount         prometheus.Counter
	slotsLedCount      prometheus.Counter
	slotsMissedCount   prometheus.Counter
	txInBlock          prometheus.Histogram
	panicCount         prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "norn_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node",
			},
		),
		mempoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "norn_node_mempool_size",
				Help: "The total pending transactions queued in node's mempool",
			},
		),
		tipHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "norn_node_tip_height",
				Help: "Height of the current canonical tip",
			},
		),
		tipSlot: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "norn_node_tip_slot",
				Help: "Absolute slot of the current canonical tip",
			},
		),
		orphanPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "norn_node_orphan_pool_size",
				Help: "Number of blocks waiting for an unknown parent",
			},
		),
		appendedBlockCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "norn_node_appended_block_count",
				Help: "The total number of blocks appended to the store",
			},
		),
		rejectedBlockCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "norn_node_rejected_block_count",
				Help: "The total number of rejected blocks",
			},
			[]string{"reason"},
		),
		rejectedTxCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "norn_node_rejected_tx_count",
				Help: "The total number of rejected transactions",
			},
			[]string{"reason"},
		),
		reorgCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "norn_node_reorg_count",
				Help: "The total number of canonical chain reorganizations",
			},
		),
		slotsLedCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "norn_node_slots_led_count",
				Help: "The total number of slots this node produced a block for",
			},
		),
		slotsMissedCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "norn_node_slots_missed_count",
				Help: "The total number of eligible slots skipped due to assembly failure",
			},
		),
		txInBlock: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "norn_node_tx_in_block",
				Help: "Number of tx in block",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "norn_node_panic_count",
				Help: "The total number of recovered panics",
			},
		),
	}
}

var nodeMetrics *nodePromMetrics

// InitMetrics initialize metrics for node but not expose to api yet
func InitMetrics() {
	nodeMetrics = newNodePromMetrics()
	nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func SetMempoolSize(size int) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.mempoolSize.Set(float64(size))
}

func SetTip(height uint64, absSlot uint64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.tipHeight.Set(float64(height))
	nodeMetrics.tipSlot.Set(float64(absSlot))
}

func SetOrphanPoolSize(size int) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.orphanPoolSize.Set(float64(size))
}

func IncreaseAppendedBlockCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.appendedBlockCount.Inc()
}

func RecordRejectedBlock(reason BlockRejectedReason) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.rejectedBlockCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

func RecordRejectedTx(reason TxRejectedReason) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.rejectedTxCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

func IncreaseReorgCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.reorgCount.Inc()
}

func IncreaseSlotsLedCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.slotsLedCount.Inc()
}

func IncreaseSlotsMissedCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.slotsMissedCount.Inc()
}

func RecordTxInBlock(txCount int) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.txInBlock.Observe(float64(txCount))
}

func IncreasePanicCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.panicCount.Inc()
}
