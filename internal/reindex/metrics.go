package reindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gally_reindex_messages_total",
		Help: "Reindex messages processed, by path taken and outcome",
	}, []string{"path", "status"})

	chunksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gally_reindex_chunks_enqueued_total",
		Help: "Chunk jobs enqueued by granulized reindex passes",
	}, []string{"entity_type"})

	documentsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gally_reindex_documents_indexed_total",
		Help: "Documents written to search indices",
	}, []string{"entity_type"})
)
