//go:build !no_automation

package automation

import (
	"context"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// callTimeout bounds one light call from a script.
const callTimeout = 10 * time.Second

// registerLightModule registers the `light` global table in a Lua state.
func registerLightModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":             func(L *lua.LState) int { return lightOn(L, vm) },
		"set_brightness": func(L *lua.LState) int { return lightSetBrightness(L, vm, e) },
		"power":          func(L *lua.LState) int { return lightPower(L, vm, e) },
		"toggle":         func(L *lua.LState) int { return lightToggle(L, vm, e) },
		"status":         func(L *lua.LState) int { return lightStatus(L, e) },
		"after":          func(L *lua.LState) int { return lightAfter(L, vm, e) },
		"log":            func(L *lua.LState) int { return lightLog(L, vm, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("light", mod)
}

// light.on(event_type, fn)
func lightOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1), fn: L.CheckFunction(2)}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// optSeconds reads an optional transition in seconds at position n.
func optSeconds(L *lua.LState, n int) time.Duration {
	s := float64(L.OptNumber(n, 0))
	if s < 0 {
		L.ArgError(n, "negative duration")
	}
	return time.Duration(s * float64(time.Second))
}

// pushResult returns true, or false plus the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func callContext(vm *scriptVM) (context.Context, context.CancelFunc) {
	return context.WithTimeout(vm.ctx, callTimeout)
}

// light.set_brightness(percent, [seconds])
func lightSetBrightness(L *lua.LState, vm *scriptVM, e *Engine) int {
	pct := math.Max(0, math.Min(100, float64(L.CheckNumber(1))))
	d := optSeconds(L, 2)
	level := uint16(math.Round(pct / 100 * 0xFFFF))

	ctx, cancel := callContext(vm)
	defer cancel()
	return pushResult(L, e.light.SetBrightness(ctx, level, d))
}

// light.power(on, [seconds])
func lightPower(L *lua.LState, vm *scriptVM, e *Engine) int {
	on := L.CheckBool(1)
	d := optSeconds(L, 2)

	ctx, cancel := callContext(vm)
	defer cancel()
	return pushResult(L, e.light.SetPower(ctx, on, d))
}

// light.toggle() -> brightness percent or false, err
func lightToggle(L *lua.LState, vm *scriptVM, e *Engine) int {
	ctx, cancel := callContext(vm)
	defer cancel()
	level, err := e.light.Toggle(ctx)
	if err != nil {
		return pushResult(L, err)
	}
	L.Push(lua.LNumber(math.Round(float64(level) * 100 / 0xFFFF)))
	return 1
}

// light.status() -> table
func lightStatus(L *lua.LState, e *Engine) int {
	st := e.light.Status()
	t := L.NewTable()
	t.RawSetString("device", lua.LString(st.Device))
	t.RawSetString("activity", lua.LString(st.Activity))
	t.RawSetString("fading", lua.LBool(st.Fading))
	t.RawSetString("inactivity_pending", lua.LBool(st.InactivityPending))
	if st.Cached != nil {
		t.RawSetString("cached_brightness", lua.LNumber(st.Cached.Brightness))
		t.RawSetString("cached_kelvin", lua.LNumber(st.Cached.Kelvin))
	}
	L.Push(t)
	return 1
}

// light.after(seconds, fn)
func lightAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// light.log(msg)
func lightLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}
