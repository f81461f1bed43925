package models

// RoomSnapshot describes the live membership of a room
type RoomSnapshot struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Count        int      `json:"count"`
	MaxSize      int      `json:"maxSize,omitempty"`
	// MirroredCount is the membership size recorded in the presence store,
	// which may include participants connected to other hub instances.
	MirroredCount *int64 `json:"mirroredCount,omitempty"`
}
