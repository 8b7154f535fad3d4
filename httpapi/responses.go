package httpapi

import "github.com/dirsync/syncprov/provider"

// stateControlWire is the JSON form of a per-entry synchronization state
// control (spec.md §6).
type stateControlWire struct {
	State     string `json:"state"`
	EntryUUID string `json:"entryUUID"`
	Cookie    string `json:"cookie,omitempty"`
}

// deliveryWire is the JSON form of one refresh-phase result.
type deliveryWire struct {
	Control stateControlWire  `json:"control"`
	DN      string            `json:"dn"`
	Attrs   map[string][]string `json:"attrs,omitempty"`
	IsRef   bool              `json:"isReferral,omitempty"`
}

func newDeliveryWire(d provider.Delivery) deliveryWire {
	return deliveryWire{
		Control: stateControlWire{
			State:     d.Control.State.String(),
			EntryUUID: d.Control.EntryUUID,
			Cookie:    d.Control.Cookie,
		},
		DN:    d.DN,
		Attrs: d.Attrs,
		IsRef: d.IsRef,
	}
}

// syncDoneWire is the JSON form of a refresh-only search's terminal control.
type syncDoneWire struct {
	Cookie         string `json:"cookie"`
	RefreshDeletes bool   `json:"refreshDeletes"`
}

func newSyncDoneWire(d *provider.SyncDoneControl) *syncDoneWire {
	if d == nil {
		return nil
	}
	return &syncDoneWire{Cookie: d.Cookie, RefreshDeletes: d.RefreshDeletes}
}

// syncInfoWire is the JSON form of one refresh-and-persist intermediate
// message.
type syncInfoWire struct {
	Kind        string   `json:"kind"`
	Cookie      string   `json:"cookie,omitempty"`
	RefreshDone bool     `json:"refreshDone,omitempty"`
	UUIDs       []string `json:"uuids,omitempty"`
}

func infoKindName(k provider.InfoKind) string {
	switch k {
	case provider.InfoNewCookie:
		return "newCookie"
	case provider.InfoRefreshDelete:
		return "refreshDelete"
	case provider.InfoRefreshPresent:
		return "refreshPresent"
	case provider.InfoSyncIDSet:
		return "syncIdSet"
	default:
		return "unknown"
	}
}

func newSyncInfoWire(m provider.SyncInfoMessage) syncInfoWire {
	return syncInfoWire{
		Kind:        infoKindName(m.Kind),
		Cookie:      m.Cookie,
		RefreshDone: m.RefreshDone,
		UUIDs:       m.UUIDs,
	}
}

// searchResponse is the full JSON body returned for a refresh-only search,
// or the body sent over the live session once a persist search's refresh
// phase has run.
type searchResponse struct {
	SessionID string         `json:"sessionId,omitempty"`
	Entries   []deliveryWire `json:"entries"`
	Done      *syncDoneWire  `json:"done,omitempty"`
	Info      []syncInfoWire `json:"info,omitempty"`
}

func newSearchResponse(sessionID string, out *provider.SearchOutcome) searchResponse {
	resp := searchResponse{SessionID: sessionID}
	resp.Entries = make([]deliveryWire, len(out.Entries))
	for i, e := range out.Entries {
		resp.Entries[i] = newDeliveryWire(e)
	}
	resp.Done = newSyncDoneWire(out.Done)
	resp.Info = make([]syncInfoWire, len(out.Info))
	for i, m := range out.Info {
		resp.Info[i] = newSyncInfoWire(m)
	}
	return resp
}

// checkpointStatusResponse reports the context CSN and learned state, for
// operators polling readiness rather than watching a live session.
type checkpointStatusResponse struct {
	ContextCSN string `json:"contextCsn"`
	Learned    bool   `json:"learned"`
}
