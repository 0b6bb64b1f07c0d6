package ac

import (
	"errors"
)

var ErrIncompatibleProtocol = errors.New("Incompatible server protocol version.")
var ErrDisconnected = errors.New("Disconnected from server.")
var ErrNotConnected = errors.New("Not connected.")
var ErrMalformedMessage = errors.New("Malformed message.")
var ErrStatusTextBrace = errors.New("Status text must not contain braces.")
var ErrLineBreak = errors.New("A frame must not contain a line break.")
