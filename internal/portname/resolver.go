package portname

import (
	"errors"
	"strings"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

// JACK port type strings.
const (
	TypeAudio = "32 bit float mono audio"
	TypeMIDI  = "8 bit raw midi"
)

// DefaultBridgeClient is the client name used by a2jmidid.
const DefaultBridgeClient = "a2j"

// AliasMode selects which name is shown for a port.
type AliasMode int

// Alias modes. AliasSecond is the default.
const (
	AliasNone   AliasMode = 0
	AliasFirst  AliasMode = 1
	AliasSecond AliasMode = 2
)

// Valid reports whether m is one of the known alias modes.
func (m AliasMode) Valid() bool {
	return m >= AliasNone && m <= AliasSecond
}

// ErrMalformedBridgedName is returned by ParseBridged when a separator is
// missing.
var ErrMalformedBridgedName = errors.New("portname: malformed bridged name")

// Input is the raw data the server reports for one port.
type Input struct {
	// Name is the canonical "<client>:<leaf>" name.
	Name string
	// Type is the JACK port type string.
	Type string
	// Aliases holds up to two server-supplied aliases, in slot order.
	Aliases []string
}

// Resolution is the structured form of a port name.
type Resolution struct {
	DisplayName string
	GroupName   string
	LeafName    string
	Medium      graph.Medium
	Bridged     bool
	// Malformed is set when the name did not match its grammar; GroupName
	// and LeafName then hold a best-effort fallback.
	Malformed bool
}

// Resolver applies the naming rules. The zero value resolves no bridged
// ports and never substitutes aliases; use New for the usual defaults.
type Resolver struct {
	BridgeClient string
	AliasMode    AliasMode
}

// New returns a resolver for the given bridge client and alias mode. An empty
// bridge client falls back to DefaultBridgeClient.
func New(bridgeClient string, mode AliasMode) Resolver {
	if bridgeClient == "" {
		bridgeClient = DefaultBridgeClient
	}
	return Resolver{BridgeClient: bridgeClient, AliasMode: mode}
}

// Resolve derives display name, group, leaf and medium for a port.
func (r Resolver) Resolve(in Input) Resolution {
	owner, short, ok := SplitName(in.Name)

	var res Resolution
	switch {
	case !ok:
		res = Resolution{
			GroupName: in.Name,
			LeafName:  in.Name,
			Medium:    MediumFromType(in.Type),
			Malformed: true,
		}
	case r.BridgeClient != "" && owner == r.BridgeClient:
		res = Resolution{Medium: graph.MediumBridgedMIDI, Bridged: true}
		b, err := ParseBridged(short)
		if err != nil {
			res.GroupName = short
			res.LeafName = short
			res.Malformed = true
		} else {
			res.GroupName = b.Device
			res.LeafName = b.Leaf
		}
	default:
		res = Resolution{
			GroupName: owner,
			LeafName:  short,
			Medium:    MediumFromType(in.Type),
		}
	}

	res.DisplayName = res.LeafName
	if alias, ok := r.alias(in.Aliases); ok {
		res.DisplayName = alias
	}
	return res
}

// alias returns the display form of the configured alias slot, if the server
// supplied one.
func (r Resolver) alias(aliases []string) (string, bool) {
	slot := int(r.AliasMode)
	if slot < 1 || slot > len(aliases) {
		return "", false
	}
	a := aliases[slot-1]
	if a == "" {
		return "", false
	}
	if _, leaf, ok := SplitName(a); ok && leaf != "" {
		return leaf, true
	}
	return a, true
}

// SplitName splits a "<client>:<leaf>" name at its first colon.
func SplitName(name string) (client, leaf string, ok bool) {
	client, leaf, ok = strings.Cut(name, ":")
	if !ok || client == "" {
		return "", "", false
	}
	return client, leaf, true
}

// MediumFromType classifies a JACK port type string.
func MediumFromType(portType string) graph.Medium {
	switch portType {
	case TypeAudio:
		return graph.MediumAudio
	case TypeMIDI:
		return graph.MediumMIDI
	default:
		return graph.MediumUndefined
	}
}

// BridgedName is a parsed bridge port short name.
type BridgedName struct {
	Device string
	// ClientID is the ALSA client id from the optional " [n]" suffix.
	ClientID string
	// Direction is the text inside the parentheses, usually "capture" or
	// "playback".
	Direction string
	Leaf      string
}

// ParseBridged parses "<device>[ [<id>]] (<dir>): <leaf>".
func ParseBridged(short string) (BridgedName, error) {
	head, leaf, ok := strings.Cut(short, "): ")
	if !ok {
		return BridgedName{}, ErrMalformedBridgedName
	}
	open := strings.LastIndex(head, " (")
	if open < 0 {
		return BridgedName{}, ErrMalformedBridgedName
	}

	b := BridgedName{
		Device:    head[:open],
		Direction: head[open+2:],
		Leaf:      leaf,
	}
	if i := strings.LastIndex(b.Device, " ["); i >= 0 && strings.HasSuffix(b.Device, "]") {
		b.ClientID = b.Device[i+2 : len(b.Device)-1]
		b.Device = b.Device[:i]
	}
	if b.Device == "" {
		return BridgedName{}, ErrMalformedBridgedName
	}
	return b, nil
}

// IsBridged reports whether name belongs to the bridge client.
func (r Resolver) IsBridged(name string) bool {
	client, _, ok := SplitName(name)
	return ok && r.BridgeClient != "" && client == r.BridgeClient
}
