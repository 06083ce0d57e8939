// Package video names the conferencing room for an appointment. Calls
// themselves run in an external embed that only needs the name.
package video

import (
	"strings"

	"github.com/mediconnect/consult-relay/internal/chat"
)

type Room struct {
	RoomName    string `json:"roomName"`
	DisplayName string `json:"displayName"`
}

type Namer struct {
	prefix string
}

func NewNamer(prefix string) *Namer {
	return &Namer{prefix: prefix}
}

func (n *Namer) RoomFor(appointmentID, displayName string) (Room, error) {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return Room{}, &chat.ValidationError{Field: "appointmentId", Reason: "required"}
	}
	return Room{RoomName: n.prefix + appointmentID, DisplayName: displayName}, nil
}
