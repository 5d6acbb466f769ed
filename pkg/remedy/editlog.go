package remedy

// EditKind classifies what kind of rewrite an Edit describes. The transform
// stage is the only consumer that turns these into a concrete IR mutation;
// here they are just a recorded intent.
type EditKind int

const (
	EditInsertTxIO EditKind = iota
	EditWrapCommutative
	EditAddResidueCheck
	EditMigrateHeap
	EditPrivatizeShortLived
	EditInsertControlSpecCheck
	EditMarkIntraIterationReduction
)

// Edit is one recorded rewrite intent contributed by a selected remedy.
type Edit struct {
	Kind   EditKind
	NodeID string            // the PDG node the edit attaches to
	Detail map[string]string // technique-specific parameters (queue name, heap kind, ...)
}

// EditLog accumulates every Edit contributed by the remedies a plan
// selected, in the order they were applied.
type EditLog struct {
	edits []Edit
}

// NewEditLog creates an empty log.
func NewEditLog() *EditLog {
	return &EditLog{}
}

// Record appends e to the log.
func (l *EditLog) Record(e Edit) {
	l.edits = append(l.edits, e)
}

// Edits returns every recorded edit, in application order.
func (l *EditLog) Edits() []Edit {
	return l.edits
}
