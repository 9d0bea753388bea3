package replication

import (
	"encoding/json"
	"os"
	"path/filepath"

	"hindsight/internal/domain"
)

// stateFile is the on-disk shape of §3.6 SyncState.
type stateFile struct {
	Config        configFile       `json:"config"`
	LastPushAt    string           `json:"last_push_at,omitempty"`
	LastPullAt    string           `json:"last_pull_at,omitempty"`
	RemoteCursors map[string]int64 `json:"remote_cursors,omitempty"`
}

type configFile struct {
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
	RepoOwner   string `json:"repo_owner"`
	RepoName    string `json:"repo_name"`
	Enabled     bool   `json:"enabled"`
}

// loadState reads the persisted sync state, falling back to a fresh state
// carrying the configured host identity.
func (r *Replicator) loadState() domain.ReplicationState {
	st := domain.ReplicationState{
		Config:        r.cfg,
		RemoteCursors: make(map[string]int64),
	}
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		return st
	}
	var raw stateFile
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("replication: corrupt state file, resetting", "error", err)
		return st
	}
	st.LastPushAt = raw.LastPushAt
	st.LastPullAt = raw.LastPullAt
	if raw.RemoteCursors != nil {
		st.RemoteCursors = raw.RemoteCursors
	}
	return st
}

func (r *Replicator) saveState(st domain.ReplicationState) error {
	raw := stateFile{
		Config: configFile{
			MachineID:   st.Config.MachineID,
			MachineName: st.Config.MachineName,
			RepoOwner:   st.Config.RepoOwner,
			RepoName:    st.Config.RepoName,
			Enabled:     st.Config.Enabled,
		},
		LastPushAt:    st.LastPushAt,
		LastPullAt:    st.LastPullAt,
		RemoteCursors: st.RemoteCursors,
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.statePath, data, 0o600)
}
