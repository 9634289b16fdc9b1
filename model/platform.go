package model

// Position is a planar placement in metres. Z is kept for completeness but
// the placement providers in this module leave it at zero.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Interferer is a continuously radiating waveform source with no network stack.
type Interferer struct {
	Index    int
	Position Position
	// PowerWatts is the total radiated power spread across the channel.
	PowerWatts float64
}
