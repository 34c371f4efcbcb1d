package executor

import (
	"go.uber.org/zap"

	"github.com/oychao1988/content-hub-sub002/internal/store"
)

// RegisterBuiltins installs the stock executor set: approve, add_to_pool,
// publish_pool_scanner, async_content_generation, and workflow.
func RegisterBuiltins(
	reg *Registry,
	st *store.Store,
	pub PublisherClient,
	submitter GenerationSubmitter,
	scannerBatchSize int,
	log *zap.Logger,
) {
	reg.Register(NewApproveExecutor(st, log))
	reg.Register(NewAddToPoolExecutor(st, log))
	reg.Register(NewPoolScannerExecutor(st, pub, scannerBatchSize, log))
	reg.Register(NewGenerationBatchExecutor(submitter, st, log))
	reg.Register(NewWorkflowExecutor(reg, log))
}
