package refreshentityregistry

import "ledger-query-workers/internal/registry"

type Input struct {
	Reason string `json:"reason,omitempty"`
}

type Output struct {
	Refreshed bool           `json:"refreshed"`
	Stats     registry.Stats `json:"stats"`
	Reason    string         `json:"reason,omitempty"`
}
