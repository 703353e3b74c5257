// Package control defines the compiler panel and peer attention messages
// exchanged during a call, and the shared state they drive. They travel as
// signaling envelopes relayed to the other room occupant.
package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1ureka/duocall/internal/signaling"
)

// ErrUnknownType is returned by Decode for non-control envelopes.
var ErrUnknownType = errors.New("unknown control type")

// Message is one control payload.
type Message interface {
	Type() signaling.MessageType
}

// Toggle opens or closes the shared compiler panel.
type Toggle struct {
	Open bool `json:"open"`
}

// Tab switches the compiler panel tab.
type Tab struct {
	Tab string `json:"tab"`
}

// Language selects the compiler language.
type Language struct {
	LanguageID int    `json:"languageId"`
	Label      string `json:"label"`
}

// Output carries the latest program output.
type Output struct {
	Output string `json:"output"`
}

// Running reports whether a program run is in progress.
type Running struct {
	Running bool `json:"running"`
}

// Hidden alerts that the peer's tab went to the background.
type Hidden struct{}

// Blur alerts that the peer's window lost focus.
type Blur struct{}

func (Toggle) Type() signaling.MessageType   { return signaling.TypeCompilerToggle }
func (Tab) Type() signaling.MessageType      { return signaling.TypeCompilerTab }
func (Language) Type() signaling.MessageType { return signaling.TypeCompilerLanguage }
func (Output) Type() signaling.MessageType   { return signaling.TypeCompilerOutput }
func (Running) Type() signaling.MessageType  { return signaling.TypeCompilerRunning }
func (Hidden) Type() signaling.MessageType   { return signaling.TypeVisibilityHidden }
func (Blur) Type() signaling.MessageType     { return signaling.TypeWindowBlur }

// Encode wraps m in an envelope ready for the signaling client.
func Encode(m Message) (signaling.Envelope, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return signaling.Envelope{}, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return signaling.Envelope{Type: m.Type(), Payload: payload}, nil
}

// Decode extracts the control message carried by env. An empty payload
// decodes to the zero value of the type.
func Decode(env signaling.Envelope) (Message, error) {
	var m Message
	switch env.Type {
	case signaling.TypeCompilerToggle:
		m = &Toggle{}
	case signaling.TypeCompilerTab:
		m = &Tab{}
	case signaling.TypeCompilerLanguage:
		m = &Language{}
	case signaling.TypeCompilerOutput:
		m = &Output{}
	case signaling.TypeCompilerRunning:
		m = &Running{}
	case signaling.TypeVisibilityHidden:
		return Hidden{}, nil
	case signaling.TypeWindowBlur:
		return Blur{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return deref(m), nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *Toggle:
		return *v
	case *Tab:
		return *v
	case *Language:
		return *v
	case *Output:
		return *v
	case *Running:
		return *v
	}
	return m
}
