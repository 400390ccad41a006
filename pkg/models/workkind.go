package models

// WorkKind names one stage-worker family. Each kind claims submissions
// resting at the previous stage's done state, holds them in a running stage,
// and completes them to the next resting stage.
type WorkKind string

// Stage worker kinds.
const (
	WorkDownload   WorkKind = "download"
	WorkTranscribe WorkKind = "transcribe"
	WorkChunk      WorkKind = "chunk"
	WorkEmbed      WorkKind = "embed"
	WorkIndex      WorkKind = "index"
)

// AllWorkKinds lists worker kinds in pipeline order.
var AllWorkKinds = []WorkKind{WorkDownload, WorkTranscribe, WorkChunk, WorkEmbed, WorkIndex}

type workTransition struct {
	claimStage  Stage
	claimStatus Status
	running     Stage
	completes   Stage
}

// The index kind has no dedicated running stage in the pipeline enum; it
// holds the submission at embedded with status running while verifying.
var workTransitions = map[WorkKind]workTransition{
	WorkDownload:   {StageQueued, StatusPending, StageDownloading, StageDownloaded},
	WorkTranscribe: {StageDownloaded, StatusDone, StageTranscribing, StageTranscribed},
	WorkChunk:      {StageTranscribed, StatusDone, StageChunking, StageChunked},
	WorkEmbed:      {StageChunked, StatusDone, StageEmbedding, StageEmbedded},
	WorkIndex:      {StageEmbedded, StatusDone, StageEmbedded, StageIndexed},
}

// ClaimFrom returns the resting (stage, status) this kind claims work from.
func (k WorkKind) ClaimFrom() (Stage, Status) {
	t := workTransitions[k]
	return t.claimStage, t.claimStatus
}

// RunningStage is the stage a submission holds while this kind processes it.
func (k WorkKind) RunningStage() Stage {
	return workTransitions[k].running
}

// CompletesTo is the resting stage reached when this kind succeeds.
func (k WorkKind) CompletesTo() Stage {
	return workTransitions[k].completes
}

// WorkKindForRunning maps a running stage back to its worker kind.
// Used by the sweeper to revert expired claims.
func WorkKindForRunning(s Stage) (WorkKind, bool) {
	for _, k := range AllWorkKinds {
		if workTransitions[k].running == s {
			return k, true
		}
	}
	return "", false
}
