// Package portname derives display names, group names, and media from raw
// JACK port names.
//
// Native ports are named "<client>:<leaf>" and are grouped by client. Ports
// exposed by the ALSA-to-JACK MIDI bridge all live under one synthetic client
// (by default "a2j"); their short name embeds the original hardware device:
//
//	<device>[ [<client id>]] (<capture|playback>): <leaf>
//
// For those the group is the device, so that several hardware devices do not
// collapse into one bridge group. Parsing is explicit (see ParseBridged) and a
// name that does not match the grammar is reported as Malformed rather than
// guessed at.
package portname
