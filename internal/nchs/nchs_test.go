package nchs

import "testing"

func hostMetadata() NetplayMetadata {
	return NetplayMetadata{ConsoleType: "corewave", TickRate: 60, MaxPlayers: 2, RomHash: 0xABCD1234}
}

func TestValidateJoinRequestPrecedenceOrder(t *testing.T) {
	host := hostMetadata()

	cases := []struct {
		name string
		req  NetplayMetadata
		want JoinRejectReason
	}{
		{"console mismatch wins over everything else", NetplayMetadata{ConsoleType: "other", TickRate: 30, MaxPlayers: 9, RomHash: 0}, ReasonConsoleTypeMismatch},
		{"tick rate checked before rom hash", NetplayMetadata{ConsoleType: "corewave", TickRate: 30, MaxPlayers: 9, RomHash: 0}, ReasonTickRateMismatch},
		{"rom hash checked before lobby full", NetplayMetadata{ConsoleType: "corewave", TickRate: 60, MaxPlayers: 9, RomHash: 0}, ReasonRomHashMismatch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			reason, ok := ValidateJoinRequest(c.req, host, 0, 2, HostListening)
			if ok {
				t.Fatalf("expected rejection")
			}
			if reason != c.want {
				t.Fatalf("reason = %v, want %v", reason, c.want)
			}
		})
	}
}

func TestValidateJoinRequestMaxPlayersMismatch(t *testing.T) {
	host := hostMetadata()
	req := host
	req.MaxPlayers = 4

	reason, ok := ValidateJoinRequest(req, host, 0, 2, HostListening)
	if ok || reason != ReasonMaxPlayersMismatch {
		t.Fatalf("reason = %v, ok = %v, want MaxPlayersMismatch", reason, ok)
	}
}

func TestValidateJoinRequestLobbyFull(t *testing.T) {
	host := hostMetadata()
	reason, ok := ValidateJoinRequest(host, host, 2, 2, HostListening)
	if ok || reason != ReasonLobbyFull {
		t.Fatalf("reason = %v, ok = %v, want LobbyFull", reason, ok)
	}
}

func TestValidateJoinRequestGameInProgress(t *testing.T) {
	host := hostMetadata()
	reason, ok := ValidateJoinRequest(host, host, 0, 2, HostStarting)
	if ok || reason != ReasonGameInProgress {
		t.Fatalf("reason = %v, ok = %v, want GameInProgress", reason, ok)
	}
	reason, ok = ValidateJoinRequest(host, host, 0, 2, HostReady)
	if ok || reason != ReasonGameInProgress {
		t.Fatalf("reason = %v, ok = %v, want GameInProgress", reason, ok)
	}
}

func TestValidateJoinRequestAccepts(t *testing.T) {
	host := hostMetadata()
	_, ok := ValidateJoinRequest(host, host, 1, 2, HostLobby)
	if !ok {
		t.Fatalf("expected acceptance")
	}
}

func TestHostGuestHandshakeHappyPath(t *testing.T) {
	netplay := hostMetadata()
	host := NewHostStateMachine(netplay, PlayerInfo{Name: "host"}, 2, []string{"10.0.0.1:7777"}, 7777)

	events := host.Poll()
	if len(events) != 1 || events[0].Listening == nil {
		t.Fatalf("expected a single Listening event, got %v", events)
	}

	guest := NewGuestStateMachine()
	joinMsg := JoinMessage(netplay, PlayerInfo{Name: "guest"})
	req, err := DecodeJoinRequest(joinMsg)
	if err != nil {
		t.Fatalf("DecodeJoinRequest: %v", err)
	}

	out := host.HandleJoinRequest("10.0.0.2:9999", req)
	if len(out) != 2 {
		t.Fatalf("expected JoinAccept + LobbyUpdate, got %d messages", len(out))
	}
	accept, err := DecodeJoinAccept(out[0].Data)
	if err != nil {
		t.Fatalf("DecodeJoinAccept: %v", err)
	}
	guest.HandleJoinAccept(accept)
	if guest.State() != GuestLobby {
		t.Fatalf("guest state = %v, want GuestLobby", guest.State())
	}
	if guest.Handle() == 0 {
		t.Fatalf("guest handle must not be host's handle (0)")
	}

	readyOut := host.HandleGuestReady("10.0.0.2:9999", GuestReady{Ready: true})
	if len(readyOut) != 1 {
		t.Fatalf("expected one LobbyUpdate broadcast to the single guest")
	}
	host.Poll() // drain the LobbyUpdated events queued by join + ready

	if !host.AllReady() {
		t.Fatalf("expected AllReady once the only guest is ready")
	}
	if host.PlayerCount() != 2 {
		t.Fatalf("PlayerCount() = %d, want 2", host.PlayerCount())
	}

	startOut, err := host.Start(0x1234)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(startOut) != 1 {
		t.Fatalf("expected one SessionStart broadcast")
	}

	// Ready event emission guarantee: the very next Poll() must return
	// exactly one Ready event, before MarkReady is ever called.
	events = host.Poll()
	if len(events) != 1 || events[0].Ready == nil {
		t.Fatalf("expected exactly one Ready event after Start(), got %v", events)
	}

	start, err := DecodeSessionStart(startOut[0].Data)
	if err != nil {
		t.Fatalf("DecodeSessionStart: %v", err)
	}
	if start.RandomSeed != 0x1234 {
		t.Fatalf("RandomSeed = %x, want 0x1234", start.RandomSeed)
	}

	punchOut := guest.HandleSessionStart(start)
	if len(punchOut) != 1 {
		t.Fatalf("expected one PunchHello to the host")
	}
	guest.HandlePunchAck(0)
	if guest.State() != GuestReadyState {
		t.Fatalf("guest state = %v, want GuestReadyState after punching its only peer", guest.State())
	}

	host.MarkReady()
	if host.State() != HostReady {
		t.Fatalf("host state = %v, want HostReady", host.State())
	}
}

func TestJoinRejectRoundTrip(t *testing.T) {
	data := EncodeJoinReject(JoinReject{Reason: ReasonRomHashMismatch})
	decoded, err := DecodeJoinReject(data)
	if err != nil {
		t.Fatalf("DecodeJoinReject: %v", err)
	}
	if decoded.Reason != ReasonRomHashMismatch {
		t.Fatalf("Reason = %v, want RomHashMismatch", decoded.Reason)
	}
}

func TestHostRejectsThirdPlayerWhenLobbyFull(t *testing.T) {
	netplay := hostMetadata()
	host := NewHostStateMachine(netplay, PlayerInfo{Name: "host"}, 2, []string{"10.0.0.1:7777"}, 7777)
	host.Poll()

	req, _ := DecodeJoinRequest(JoinMessage(netplay, PlayerInfo{Name: "g1"}))
	host.HandleJoinRequest("10.0.0.2:1", req)

	out := host.HandleJoinRequest("10.0.0.3:1", req)
	reject, err := DecodeJoinReject(out[0].Data)
	if err != nil {
		t.Fatalf("DecodeJoinReject: %v", err)
	}
	if reject.Reason != ReasonLobbyFull {
		t.Fatalf("Reason = %v, want LobbyFull", reject.Reason)
	}
}

func TestStartRejectedUnlessAllReadyAndEnoughPlayers(t *testing.T) {
	netplay := hostMetadata()
	host := NewHostStateMachine(netplay, PlayerInfo{Name: "host"}, 2, []string{"10.0.0.1:7777"}, 7777)
	host.Poll()

	if _, err := host.Start(1); err == nil {
		t.Fatalf("expected Start to fail with only one player")
	}

	req, _ := DecodeJoinRequest(JoinMessage(netplay, PlayerInfo{Name: "g1"}))
	host.HandleJoinRequest("10.0.0.2:1", req)

	if _, err := host.Start(1); err == nil {
		t.Fatalf("expected Start to fail before the guest is ready")
	}
}

func TestHeaderRoundTripAndBadMagicRejected(t *testing.T) {
	data := EncodeHeader(MsgGuestReady)
	msgType, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if msgType != MsgGuestReady {
		t.Fatalf("msgType = %v, want MsgGuestReady", msgType)
	}

	data[0] = 'X'
	if _, err := DecodeHeader(data); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}
