// Package metrics provides custom Prometheus metrics for ecosort.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFailed  = "failed"
)

// Mode label values mirror datastore.ProcessingMode.
const (
	ModeOnDevice = "ondevice"
	ModeCloud    = "cloud"
)

// Step label values for pipeline steps.
const (
	StepCreate     = "create"
	StepTaxonomy   = "taxonomy"
	StepMedia      = "media"
	StepPersist    = "persist"
	StepClassify   = "classify"
	StepReconcile  = "reconcile"
	StepSubmit     = "submit"
	StepSubscribe  = "subscribe"
	StepDownload   = "download"
	StepPreprocess = "preprocess"
)
