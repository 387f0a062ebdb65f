package domain

// UserStatus mirrors the relay's view of the local user only. It is
// toggled by applying INFO commands pushed by the relay, never computed
// from chat traffic.
type UserStatus struct {
	IsAdmin     bool
	IsMuted     bool
	IsHost      bool
	IsConnected bool
}
