package kiosk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/learner"
)

const greetingFunction = "greeting"

// LuaHook renders greeting lines through an operator-provided script.
//
// The script must define a global function `greeting(scan)`. It receives a
// table with the learner's id, given_name, family_name, grade, area, the
// direction, and the wall-clock time, and returns the line to print.
type LuaHook struct {
	mu    sync.Mutex
	state *lua.State
}

// LoadLuaHook loads and checks a greeting script.
func LoadLuaHook(path string) (*LuaHook, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load greeting script: %w", err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run greeting script: %w", err)
	}

	state.Global(greetingFunction)
	defined := state.TypeOf(-1) == lua.TypeFunction
	state.SetTop(0)
	if !defined {
		return nil, fmt.Errorf("greeting script defines no %q function", greetingFunction)
	}
	return &LuaHook{state: state}, nil
}

// Greet calls the script's greeting function for one scan. The Lua state
// is single-threaded; calls are serialized.
func (h *LuaHook) Greet(member learner.Learner, direction attendance.Direction, at time.Time) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.SetTop(0)
	h.state.Global(greetingFunction)
	h.pushScan(member, direction, at)
	if err := h.state.ProtectedCall(1, 1, 0); err != nil {
		h.state.SetTop(0)
		return "", fmt.Errorf("greeting hook: %w", err)
	}
	if h.state.TypeOf(-1) != lua.TypeString {
		h.state.SetTop(0)
		return "", errors.New("greeting hook returned no string")
	}
	line, _ := h.state.ToString(-1)
	h.state.SetTop(0)
	return line, nil
}

func (h *LuaHook) pushScan(member learner.Learner, direction attendance.Direction, at time.Time) {
	h.state.NewTable()
	h.state.PushString(member.ID)
	h.state.SetField(-2, "id")
	h.state.PushString(member.GivenName)
	h.state.SetField(-2, "given_name")
	h.state.PushString(member.FamilyName)
	h.state.SetField(-2, "family_name")
	h.state.PushString(member.Grade)
	h.state.SetField(-2, "grade")
	h.state.PushString(member.Area)
	h.state.SetField(-2, "area")
	h.state.PushString(string(direction))
	h.state.SetField(-2, "direction")
	h.state.PushString(at.Local().Format(timeLayout))
	h.state.SetField(-2, "time")
}
