package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/duocall/internal/call"
	"github.com/1ureka/duocall/internal/chat"
	"github.com/1ureka/duocall/internal/compiler"
	"github.com/1ureka/duocall/internal/control"
	"github.com/1ureka/duocall/internal/util"
)

const helpText = `/mute, /unmute        microphone
/video on|off         camera
/panel open|close     shared compiler panel
/lang <id> <label>    compiler language
/run <id> <file>      run a source file on the compiler service
/state                show call state
/quit                 leave the call`

// command is one parsed input line.
type command struct {
	name string
	args []string
	text string // chat text when name is empty
}

// parseLine splits a slash command from plain chat text.
func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{text: line}
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{text: line}
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}
}

// handleLine runs one input line and reports whether the user asked to quit.
func handleLine(ctx context.Context, ctrl *call.Controller, line string) bool {
	cmd := parseLine(line)

	switch cmd.name {
	case "":
		if _, err := ctrl.SendChat(ctx, cmd.text); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
			util.LogWarning("chat: %v", err)
		}
	case "quit", "exit":
		return true
	case "help":
		pterm.Println(helpText)
	case "mute":
		ctrl.ToggleAudio(false)
	case "unmute":
		ctrl.ToggleAudio(true)
	case "video":
		ctrl.ToggleVideo(len(cmd.args) == 0 || cmd.args[0] != "off")
	case "panel":
		open := len(cmd.args) == 0 || cmd.args[0] != "close"
		sendControl(ctrl, control.Toggle{Open: open})
	case "lang":
		if len(cmd.args) < 2 {
			util.LogWarning("usage: /lang <id> <label>")
			break
		}
		id, err := strconv.Atoi(cmd.args[0])
		if err != nil {
			util.LogWarning("invalid language id %q", cmd.args[0])
			break
		}
		sendControl(ctrl, control.Language{LanguageID: id, Label: strings.Join(cmd.args[1:], " ")})
	case "run":
		runFile(ctx, ctrl, cmd.args)
	case "state":
		printState(ctrl.State())
	default:
		util.LogWarning("unknown command /%s", cmd.name)
	}
	return false
}

func sendControl(ctrl *call.Controller, m control.Message) {
	if err := ctrl.SendControl(m); err != nil {
		util.LogWarning("%s: %v", m.Type(), err)
	}
}

func runFile(ctx context.Context, ctrl *call.Controller, args []string) {
	if len(args) != 2 {
		util.LogWarning("usage: /run <id> <file>")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		util.LogWarning("invalid language id %q", args[0])
		return
	}
	source, err := os.ReadFile(args[1])
	if err != nil {
		util.LogWarning("read %s: %v", args[1], err)
		return
	}

	res, err := ctrl.RunCode(ctx, compiler.Request{LanguageID: id, Source: string(source)})
	if err != nil {
		util.LogWarning("run: %v", err)
		return
	}
	pterm.DefaultBox.WithTitle("output").Println(res.Text())
}

func printState(st call.State) {
	rows := pterm.TableData{
		{"status", st.Status.String()},
		{"room", st.RoomID},
		{"self", st.SelfID},
		{"peer", st.PeerID},
		{"phase", st.Phase.String()},
		{"audio / video", fmt.Sprintf("%v / %v", st.AudioOn, st.VideoOn)},
		{"remote video", strconv.FormatBool(st.RemoteVideo)},
		{"chat", fmt.Sprintf("%d messages, open=%v", len(st.Messages), st.ChatOpen)},
		{"compiler", fmt.Sprintf("open=%v lang=%s running=%v", st.Control.CompilerOpen, st.Control.LanguageLabel, st.Control.Running)},
		{"peer alerts", fmt.Sprintf("%d hidden, %d blur", st.Control.HiddenAlerts, st.Control.BlurAlerts)},
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
}
