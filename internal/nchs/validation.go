package nchs

// ValidateJoinRequest checks a JoinRequest against the host's own ROM
// metadata and current lobby occupancy, in the fixed precedence order §4.I
// requires: ConsoleTypeMismatch, then TickRateMismatch, then
// RomHashMismatch, then MaxPlayersMismatch, then LobbyFull, then
// GameInProgress. It returns ok=true only if every check passes.
func ValidateJoinRequest(req NetplayMetadata, host NetplayMetadata, activeSlots, maxPlayers int, hostState HostState) (reason JoinRejectReason, ok bool) {
	if req.ConsoleType != host.ConsoleType {
		return ReasonConsoleTypeMismatch, false
	}
	if req.TickRate != host.TickRate {
		return ReasonTickRateMismatch, false
	}
	if req.RomHash != host.RomHash {
		return ReasonRomHashMismatch, false
	}
	if req.MaxPlayers != host.MaxPlayers {
		return ReasonMaxPlayersMismatch, false
	}
	if activeSlots >= maxPlayers {
		return ReasonLobbyFull, false
	}
	if hostState == HostStarting || hostState == HostReady {
		return ReasonGameInProgress, false
	}
	return 0, true
}
