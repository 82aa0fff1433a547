package types

// Verdict is the outcome of policy evaluation for an auth event.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// Disposition tags how a handled event was resolved, for the metrics
// collaborator.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionDropped   Disposition = "dropped"
	DispositionError     Disposition = "error"
)

// FlushMode scopes a decision-cache flush.
type FlushMode string

const (
	FlushAll         FlushMode = "all"
	FlushNonRootOnly FlushMode = "non_root_only"
)

// FlushReason records why a decision-cache flush was requested.
type FlushReason string

const (
	FlushReasonConfigChanged       FlushReason = "config_changed"
	FlushReasonRulesChanged        FlushReason = "rules_changed"
	FlushReasonManual              FlushReason = "manual"
	FlushReasonFilesystemUnmounted FlushReason = "filesystem_unmounted"
)
