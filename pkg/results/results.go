package results

type Reason string

const (
	// ReasonUnknown is default reason. Occurrences of this reason in logs
	// indicate a bug, a failure to identify the reason for an error somewhere.
	ReasonUnknown Reason = "unknown"

	// ReasonLoadingArgs means the flags could not be turned into runtime options.
	ReasonLoadingArgs Reason = "loading_args"
	// ReasonEnumeration means the artifact store could not be listed.
	ReasonEnumeration Reason = "enumerating_artifacts"
	// ReasonSelection means the artifacts could not be grouped into the requested runs.
	ReasonSelection Reason = "selecting_runs"
	// ReasonMaterialization means an artifact payload could not be loaded.
	ReasonMaterialization Reason = "materializing_artifact"
	// ReasonAnalysis means an analyzer failed.
	ReasonAnalysis Reason = "analyzing"
	// ReasonWritingOutput means the results could not be written.
	ReasonWritingOutput Reason = "writing_output"
	// ReasonUpload means the results could not be inserted into BigQuery.
	ReasonUpload Reason = "uploading_results"
)
