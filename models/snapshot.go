package models

import "time"

// NetworkSnapshot is a consistent read of members and positions taken at one instant
type NetworkSnapshot struct {
	Members   []Member
	Positions []NetworkPosition
	TakenAt   time.Time
}
