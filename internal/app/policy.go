package app

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	CloseConnection
)

// Policy decides what happens to a connection whose outbound buffer refused a frame.
// The frame itself is lost either way.
type Policy interface {
	OnBackPressure(id domain.UserID, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy keeps slow consumers connected and lets frames drop.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.UserID, core.SignalConnection) BackpressureAction {
	return DropFrame
}

// StrictPolicy disconnects slow consumers.
type StrictPolicy struct{}

func (StrictPolicy) OnBackPressure(domain.UserID, core.SignalConnection) BackpressureAction {
	return CloseConnection
}

// PolicyByName maps the backpressure config value to a Policy.
func PolicyByName(name string) Policy {
	if name == "close" {
		return StrictPolicy{}
	}
	return SimplePolicy{}
}
