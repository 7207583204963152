package session

// Command envelope tokens. The controller sends STRING(name); the agent
// replies STRING(ReplyRunning) or STRING(ReplyNotFound). Ping is answered
// with the raw bytes of Pong, outside the envelope.
const (
	Ping          = "ping"
	Pong          = "pong"
	ReplyRunning  = "running"
	ReplyNotFound = "notfound"
)
