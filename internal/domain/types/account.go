package types

// User is a remote-CDM account: a display name and the device names its
// secret may open sessions on.
type User struct {
	Name    string   `json:"name"`
	Devices []string `json:"devices"`
}

// Allows reports whether the user may use the named device.
func (u User) Allows(device string) bool {
	for _, d := range u.Devices {
		if d == device {
			return true
		}
	}
	return false
}

// SavedKeys is one batch of keys persisted by the CLI.
type SavedKeys struct {
	Label     string `json:"label"`
	KeySystem string `json:"key_system"`
	Keys      []Key  `json:"keys"`
	SavedUTC  int64  `json:"saved_utc"`
}
