package client

// CommandType names a control command understood by the network application.
type CommandType string

const (
	// CommandSetState replaces the application state with the command's
	// data. Sent once with ClearQueue set during registration.
	CommandSetState CommandType = "SET_STATE"
	// CommandGetState asks the application to report its state.
	CommandGetState CommandType = "GET_STATE"
)

// ControlCommand is a request on the control channel.
type ControlCommand struct {
	Type       CommandType    `json:"type"`
	ClearQueue bool           `json:"clear_queue"`
	Data       map[string]any `json:"data,omitempty"`
}
