package domain

// Action is the per-file outcome of reconciliation
type Action string

const (
	ActionSkip     Action = "skip"
	ActionUpload   Action = "upload"
	ActionReupload Action = "reupload"
)

// Reason explains why an action was chosen
type Reason string

const (
	ReasonAlreadyUploaded  Reason = "already uploaded, same size"
	ReasonPreviouslyFailed Reason = "previously failed"
	ReasonSizeChanged      Reason = "size changed"
	ReasonNeverSeen        Reason = "never seen"
)

// Decision pairs a local file with its reconciliation outcome
type Decision struct {
	File   LocalFile
	Action Action
	Reason Reason
}

// NeedsTransfer reports whether the file has to be sent
func (d Decision) NeedsTransfer() bool {
	return d.Action == ActionUpload || d.Action == ActionReupload
}

// Plan is the reconciliation result for one run
type Plan struct {
	// Identifier of the remote item
	Identifier string

	// Decisions in scan order
	Decisions []Decision

	// Seeded is the number of ledger entries created from the remote
	// inventory because the ledger was empty
	Seeded int

	// Stats summary
	Stats PlanStats
}

// PlanStats provides summary statistics for a plan
type PlanStats struct {
	TotalFiles      int
	FilesToSkip     int
	FilesToUpload   int
	FilesToReupload int
	BytesToTransfer int64
}

// Transfers returns the decisions that need a transfer, in order
func (p *Plan) Transfers() []Decision {
	var out []Decision
	for _, d := range p.Decisions {
		if d.NeedsTransfer() {
			out = append(out, d)
		}
	}
	return out
}
