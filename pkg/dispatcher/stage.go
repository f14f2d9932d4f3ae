package dispatcher

// Stage is a named ordered point in the dispatch pipeline at which
// handlers may fire
type Stage int

const (
	// StagePreValidate runs before anything else touches the envelope
	StagePreValidate Stage = iota

	// StageDistribute routes the envelope to downstream destinations
	StageDistribute

	// StagePostDistributeInline runs after distribution, same dispatch
	StagePostDistributeInline

	// StageReceptorInvoke invokes the business handlers
	StageReceptorInvoke

	// StagePostPerspectiveInline updates read models, same dispatch
	StagePostPerspectiveInline

	// StagePostHandle runs last, after every other stage succeeded
	StagePostHandle
)

// stageOrder is the pipeline. Dispatch walks it front to back.
var stageOrder = []Stage{
	StagePreValidate,
	StageDistribute,
	StagePostDistributeInline,
	StageReceptorInvoke,
	StagePostPerspectiveInline,
	StagePostHandle,
}

// Stages returns the pipeline stages in execution order
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// String returns the stage name
func (s Stage) String() string {
	switch s {
	case StagePreValidate:
		return "pre_validate"
	case StageDistribute:
		return "distribute"
	case StagePostDistributeInline:
		return "post_distribute_inline"
	case StageReceptorInvoke:
		return "receptor_invoke"
	case StagePostPerspectiveInline:
		return "post_perspective_inline"
	case StagePostHandle:
		return "post_handle"
	default:
		return "unknown"
	}
}
