package conn

// Status represents the state of the connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

func (s Status) String() string {
	return string(s)
}

// gauge maps the status onto the value exported by the connection status metric.
func (s Status) gauge() float64 {
	switch s {
	case StatusConnecting:
		return 1
	case StatusConnected:
		return 2
	default:
		return 0
	}
}
