package source

// CallbackKind identifies which host callback a RecordedCallback replays.
type CallbackKind string

const (
	CallbackTranslateBlockStart CallbackKind = "translate_block_start"
	CallbackExecuteBlockStart   CallbackKind = "execute_block_start"
	CallbackStateFork           CallbackKind = "state_fork"
	CallbackStateMerge          CallbackKind = "state_merge"
	CallbackStateKill           CallbackKind = "state_kill"
	CallbackStateSwitch         CallbackKind = "state_switch"
	CallbackModuleLoad          CallbackKind = "module_load"
	CallbackModuleUnload        CallbackKind = "module_unload"
	CallbackProcessUnload       CallbackKind = "process_unload"
	CallbackTimer               CallbackKind = "timer"
)

// RecordedCallback is the JSON-serialisable replay of one host callback,
// recorded from a real (or synthetic) guest run. Only the fields relevant
// to Kind are populated; the rest are left at their zero value.
type RecordedCallback struct {
	Kind CallbackKind `json:"kind"`

	// Shared identity fields.
	HostID   int32   `json:"host_id,omitempty"`
	ChildIDs []int32 `json:"child_ids,omitempty"`
	SourceID int32   `json:"source_id,omitempty"` // state-merge source

	// translate/execute-block-start.
	PC       uint64 `json:"pc,omitempty"`
	Size     int    `json:"size,omitempty"`
	ElfVAddr uint64 `json:"elf_vaddr,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`

	// module-load / module-unload / process-unload.
	ModulePath string `json:"module_path,omitempty"`
	Pid        int32  `json:"pid,omitempty"`
}

// CallbackEvent is a unified callback event from any source, mirroring
// the shape of one RecordedCallback plus source provenance metadata.
type CallbackEvent struct {
	ID         string
	Callback   *RecordedCallback
	SourceType SourceType
	SourceName string
	Metadata   map[string]string
	AckToken   interface{}
}

// NewCallbackEvent creates a new CallbackEvent from a RecordedCallback.
func NewCallbackEvent(cb *RecordedCallback, sourceType SourceType, sourceName string) *CallbackEvent {
	return &CallbackEvent{
		Callback:   cb,
		SourceType: sourceType,
		SourceName: sourceName,
		Metadata:   make(map[string]string),
	}
}

// WithMetadata adds metadata to the event and returns it for chaining.
func (e *CallbackEvent) WithMetadata(key, value string) *CallbackEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithAckToken sets the ack token and returns the event for chaining.
func (e *CallbackEvent) WithAckToken(token interface{}) *CallbackEvent {
	e.AckToken = token
	return e
}
