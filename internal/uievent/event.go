// Package uievent carries plugin-originated UI mutations to the observing
// surface and keeps a reconciled snapshot for observers that attach late.
package uievent

import (
	"time"

	"github.com/dshills/blockhost/internal/plugin/value"
)

// Kind names the UI object an event targets.
type Kind string

// Buffered kinds. Their latest state is kept in the snapshot.
const (
	KindHTML        Kind = "html"
	KindCSS         Kind = "css"
	KindSidebar     Kind = "sidebar"
	KindContextMenu Kind = "context_menu"
	KindComponent   Kind = "component"
)

// Live-only kinds. They are delivered but never buffered.
const (
	KindNotification Kind = "notification"
	KindElement      Kind = "element"
	KindPlugin       Kind = "plugin"
)

// Buffered reports whether events of kind k update the snapshot.
func (k Kind) Buffered() bool {
	switch k {
	case KindHTML, KindCSS, KindSidebar, KindContextMenu, KindComponent:
		return true
	}
	return false
}

// Action is the mutation an event describes.
type Action string

// Actions and their buffer semantics.
const (
	ActionCreate     Action = "create"     // replace
	ActionInject     Action = "inject"     // replace
	ActionUpdate     Action = "update"     // merge
	ActionSet        Action = "set"        // merge
	ActionRemove     Action = "remove"     // delete
	ActionUnregister Action = "unregister" // delete
	ActionRemoveAll  Action = "remove_all" // clear plugin

	// Live-only actions.
	ActionShow  Action = "show"
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Event is one UI mutation emitted by a plugin.
type Event struct {
	PluginID  string      `json:"pluginId"`
	ElementID string      `json:"elementId,omitempty"`
	Kind      Kind        `json:"kind"`
	Action    Action      `json:"action"`
	Data      value.Value `json:"data"`
	Time      time.Time   `json:"time"`
}

// Handler receives live events.
type Handler func(Event)
