// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zebra-rs/bgpd/config"
	"github.com/zebra-rs/bgpd/parser"
	"github.com/zebra-rs/bgpd/yang"
)

// CommandService is the daemon side of spec.md §6's Exec surface: it
// turns a CLI request into a config.ConfigManager Execute or Complete
// call and renders the result the way the CLI expects (data flow:
// CLI -> CommandService -> ConfigManager, spec §2).
type CommandService struct {
	mgr *config.ConfigManager
}

func NewCommandService(mgr *config.ConfigManager) *CommandService {
	return &CommandService{mgr: mgr}
}

func (s *CommandService) log() *log.Entry {
	return log.WithFields(log.Fields{"Topic": "Rpc"})
}

// DoExec implements Exec.do_exec. ExecTypeExec runs the command; the
// Complete* variants only parse, so tab completion never mutates the
// candidate tree. CompleteTrailingSpace forces the trailing-space
// completion regeneration of spec §4.4 step 7 even when the CLI
// stripped the space in transit; CompleteFirstCommands completes the
// empty line, i.e. the mode's top-level commands.
func (s *CommandService) DoExec(ctx context.Context, req *ExecRequest) (*ExecResponse, error) {
	mode := config.Mode(req.Mode)

	var result config.ExecResult
	var err error
	switch req.Type {
	case ExecTypeExec:
		result, err = s.mgr.Execute(mode, req.Line)
	case ExecTypeComplete:
		result, err = s.mgr.Complete(mode, req.Line)
	case ExecTypeCompleteTrailingSpace:
		line := req.Line
		if !strings.HasSuffix(line, " ") {
			line += " "
		}
		result, err = s.mgr.Complete(mode, line)
	case ExecTypeCompleteFirstCommands:
		result, err = s.mgr.Complete(mode, "")
	default:
		return nil, fmt.Errorf("rpc: unknown exec type %d", req.Type)
	}
	if err != nil {
		s.log().WithError(err).WithField("line", req.Line).Warn("exec failed")
		return &ExecResponse{Code: "NoMatch", Lines: []string{err.Error()}}, nil
	}
	if result.Code == parser.ExecRedirectShow {
		// The output belongs to the streaming Show service; the CLI
		// re-issues the line there. The internal dotted lookup key is
		// not part of the reply.
		return &ExecResponse{Code: statusLine(result.Code)}, nil
	}
	return &ExecResponse{
		Code:  statusLine(result.Code),
		Lines: formatLines(result),
	}, nil
}

// statusLine renders the leading status word spec.md §6 specifies;
// note the wire spelling "NoMatch" differs from the Go identifier
// parser.ExecNomatch.
func statusLine(code parser.ExecCode) string {
	switch code {
	case parser.ExecSuccess, parser.ExecShow, parser.ExecRedirectShow:
		return "Success"
	case parser.ExecNomatch:
		return "NoMatch"
	case parser.ExecAmbiguous:
		return "Ambiguous"
	case parser.ExecIncomplete:
		return "Incomplete"
	}
	return "NoMatch"
}

// formatLines renders completion entries with the Key/Dir/other
// marker spec.md §6 describes; plain output lines (show/exec results)
// pass through unrendered.
func formatLines(r config.ExecResult) []string {
	if len(r.Completions) == 0 {
		return r.Lines
	}
	lines := make([]string, 0, len(r.Completions))
	for _, c := range r.Completions {
		marker := "  "
		help := ""
		if c.Entry != nil {
			help = c.Entry.Help
			switch c.Entry.Kind {
			case yang.EntryKey:
				marker = "+>"
			case yang.EntryDir:
				marker = "->"
			}
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", c.Text, marker, help))
	}
	return lines
}

// ShowService implements Show.show: a streaming reply of lines. A
// RedirectShow outcome from the exec parser lands here with the full
// path, so the per-resource show functions (e.g. one neighbor's
// detail) render close to the state they report on.
type ShowService struct {
	mgr *config.ConfigManager
}

func NewShowService(mgr *config.ConfigManager) *ShowService {
	return &ShowService{mgr: mgr}
}

// Show runs req.Line in exec mode and streams each resulting line.
func (s *ShowService) Show(req *ShowRequest, stream Show_ShowServer) error {
	result, err := s.mgr.Execute(config.ModeExec, req.Line)
	if err != nil {
		return err
	}
	lines := result.Lines
	if result.Code == parser.ExecRedirectShow {
		lines, err = s.redirect(result)
		if err != nil {
			return err
		}
	}
	for _, line := range lines {
		if err := stream.Send(&ShowReply{Line: line}); err != nil {
			return err
		}
	}
	return nil
}

// redirect resolves a RedirectShow handoff: the dotted keyword path
// selects the registered function, the full CommandPath trail carries
// its arguments.
func (s *ShowService) redirect(result config.ExecResult) ([]string, error) {
	if len(result.Lines) == 0 {
		return nil, fmt.Errorf("rpc: redirect show carried no path")
	}
	dotted := result.Lines[0]
	fn := s.mgr.ShowFuncFor(dotted)
	if fn == nil {
		return nil, fmt.Errorf("rpc: no show handler registered for %q", dotted)
	}
	return fn(result.Paths), nil
}
