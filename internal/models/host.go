package models

// Host is a peer node in the mesh. The canonical id is the machine hostname;
// the deprecated literal "local" is still accepted as an alias for self.
type Host struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}
