package offline

import "errors"

// ErrWipeIncomplete is returned by ClearAllData when a collection still
// holds records after being cleared.
var ErrWipeIncomplete = errors.New("local data not fully cleared")

// Result reasons.
const (
	ReasonAlreadyInProgress = "already_in_progress"
	ReasonAPIUnavailable    = "api_unavailable"
	ReasonFirstSync         = "first_sync"
	ReasonCountMismatch     = "count_mismatch"
	ReasonDataUpdated       = "data_updated"
	ReasonUpToDate          = "up_to_date"
	ReasonSyncCompleted     = "sync_completed"
	ReasonManualCompleted   = "manual_completed"
	ReasonNoChanges         = "no_changes"
	ReasonAllCached         = "all_cached"
	ReasonNetworkNotMet     = "network_conditions_not_met"
	ReasonNoRemoteEndpoint  = "no_remote_endpoint"
	ReasonOffline           = "offline"
	ReasonEmptyQueue        = "empty"
	ReasonError             = "error"
)
