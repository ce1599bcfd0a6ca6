package diag

import "fmt"

// Kind categorizes a fatal or semi-fatal error per §7.
type Kind int

const (
	KindInvalidROM Kind = iota
	KindSandboxLimitExceeded
	KindDeterminismDivergence
	KindPeerTimeout
	KindJoinRejected
	KindPacketMalformed
	KindSocketBindFailure
	KindAssetMissing
	KindFFIOutOfBounds
)

func (k Kind) String() string {
	switch k {
	case KindInvalidROM:
		return "InvalidRom"
	case KindSandboxLimitExceeded:
		return "SandboxLimitExceeded"
	case KindDeterminismDivergence:
		return "DeterminismDivergence"
	case KindPeerTimeout:
		return "PeerTimeout"
	case KindJoinRejected:
		return "JoinRejected"
	case KindPacketMalformed:
		return "PacketMalformed"
	case KindSocketBindFailure:
		return "SocketBindFailure"
	case KindAssetMissing:
		return "AssetMissing"
	case KindFFIOutOfBounds:
		return "FFIOutOfBounds"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with a Kind so the top-level application
// can dispatch on category without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a Kind-tagged error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Fatal reports whether errors of this kind end the session per §7's
// propagation policy (limit breaches, determinism divergence, bind
// failures are fatal; join rejection, malformed packets, and missing
// assets recover locally).
func (k Kind) Fatal() bool {
	switch k {
	case KindInvalidROM, KindSandboxLimitExceeded, KindDeterminismDivergence, KindSocketBindFailure:
		return true
	case KindPeerTimeout:
		return true // ends the session cleanly, but does not crash the process
	default:
		return false
	}
}
