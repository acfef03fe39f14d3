package core

// CommandKind describes what the hub is asked to do.
type CommandKind int

const (
	// CommandRegister attaches a session to the hub's fan-out.
	CommandRegister CommandKind = iota
	// CommandUnregister detaches a session and drops its registry entry.
	CommandUnregister
	// CommandJoin records the identity a session announced.
	CommandJoin
	// CommandSnapshot asks for the current visitor list.
	CommandSnapshot
	// CommandRemote applies a relayed update from another instance.
	CommandRemote
)

// Command is processed by the hub loop in arrival order.
type Command struct {
	Kind     CommandKind
	Client   *Client
	Identity Identity
	Update   *PeerUpdate
	Reply    chan []Identity
}
