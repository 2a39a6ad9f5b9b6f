package metrics

import (
	"github.com/docker/go-metrics"
)

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "s3fs"
)

// TransferNamespace is the prometheus namespace of transfer related operations
var TransferNamespace = metrics.NewNamespace(NamespacePrefix, "transfer", nil)

func init() {
	metrics.Register(TransferNamespace)
}
