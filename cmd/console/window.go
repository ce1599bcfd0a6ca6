package main

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"corewave/internal/inputring"
)

// baseWidth/baseHeight are the reference console's native framebuffer
// dimensions before the -scale flag is applied.
const (
	baseWidth  = 240
	baseHeight = 160
)

// openWindow stands up a GLFW window sized for the ROM's title and the
// requested integer scale, disabling GLFW's own OpenGL context since WebGPU
// owns the surface (mirrors Carmen-Shannon-oxy-go's newPlatformWindow).
func openWindow(title string, scale int) (*glfw.Window, func(), error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, nil, fmt.Errorf("init glfw: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	win, err := glfw.CreateWindow(baseWidth*scale, baseHeight*scale, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, nil, fmt.Errorf("create window: %w", err)
	}

	return win, func() {
		win.Destroy()
		glfw.Terminate()
	}, nil
}

// keymap pairs a GLFW key with the Sample button bit it drives. Mirrors a
// typical fixed d-pad + four-face-button + two-shoulder + start layout
// (§4.G's Sample is a fixed 11-bit controller, not a ROM-defined one).
var keymap = []struct {
	key    glfw.Key
	button uint16
}{
	{glfw.KeyUp, inputring.ButtonUp},
	{glfw.KeyDown, inputring.ButtonDown},
	{glfw.KeyLeft, inputring.ButtonLeft},
	{glfw.KeyRight, inputring.ButtonRight},
	{glfw.KeyZ, inputring.ButtonA},
	{glfw.KeyX, inputring.ButtonB},
	{glfw.KeyA, inputring.ButtonX},
	{glfw.KeyS, inputring.ButtonY},
	{glfw.KeyQ, inputring.ButtonL},
	{glfw.KeyW, inputring.ButtonR},
	{glfw.KeyEnter, inputring.ButtonStart},
}

// readKeyboardSample polls the current keyboard state into one Sample,
// driving the local player's d-pad directly into StickX/StickY as the
// digital fallback the rollback session's prediction logic expects every
// frame (§4.G: a sample is produced every tick, guess or real).
func readKeyboardSample(win *glfw.Window) inputring.Sample {
	var s inputring.Sample
	for _, k := range keymap {
		if win.GetKey(k.key) == glfw.Press {
			s.Buttons |= k.button
		}
	}
	switch {
	case s.Buttons&inputring.ButtonLeft != 0:
		s.StickX = -127
	case s.Buttons&inputring.ButtonRight != 0:
		s.StickX = 127
	}
	switch {
	case s.Buttons&inputring.ButtonUp != 0:
		s.StickY = -127
	case s.Buttons&inputring.ButtonDown != 0:
		s.StickY = 127
	}
	return s
}
