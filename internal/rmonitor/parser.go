// SPDX-License-Identifier: MIT

package rmonitor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse is the sentinel wrapped by every ParseError.
var ErrParse = errors.New("rmonitor parse error")

// ParseError reports a malformed line or field. The surrounding batch
// keeps processing; only the offending command is skipped.
type ParseError struct {
	Line string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrParse }

func parseErr(line, format string, args ...any) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// ParseBatch splits raw feed data into lines and parses each into a
// command. Malformed lines are reported through onErr and skipped; the
// rest of the batch still parses.
func ParseBatch(data string, onErr func(error)) []Command {
	var cmds []Command
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd, err := ParseLine(line)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			continue
		}
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// ParseLine parses a single result-monitor line. Unknown markers return
// (nil, nil) so callers can count them without aborting.
func ParseLine(line string) (Command, error) {
	if !strings.HasPrefix(line, "$") {
		return nil, parseErr(line, "missing command marker")
	}
	marker, rest, _ := strings.Cut(line, ",")
	fields := splitFields(rest)
	switch marker {
	case "$F":
		return parseHeartbeat(line, fields)
	case "$B":
		return parseRunInfo(line, fields)
	case "$A":
		return parseCompetitorLong(line, fields)
	case "$COMP":
		return parseCompetitorShort(line, fields)
	case "$C":
		return parseClassInfo(line, fields)
	case "$E":
		return parseSetting(line, fields)
	case "$G":
		return parseRaceInfo(line, fields)
	case "$H":
		return parsePracticeBest(line, fields)
	case "$I":
		return parseInitRecord(line, fields)
	case "$J":
		return parsePassingInfo(line, fields)
	case "$COR":
		return CorrectedFinish{}, nil
	default:
		return nil, nil
	}
}

// splitFields splits the comma-separated payload and strips the double
// quotes from string fields. Quoted content is preserved verbatim,
// including interior whitespace; the protocol forbids embedded commas
// and quotes.
func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = unquote(p)
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

func atoi(line, name, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, parseErr(line, "field %s: %v", name, err)
	}
	return n, nil
}

func atou32(line, name, s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, parseErr(line, "field %s: %v", name, err)
	}
	return uint32(n), nil
}

func need(line string, fields []string, n int) error {
	if len(fields) < n {
		return parseErr(line, "want %d fields, got %d", n, len(fields))
	}
	return nil
}

func parseHeartbeat(line string, f []string) (Command, error) {
	if err := need(line, f, 5); err != nil {
		return nil, err
	}
	laps, err := atoi(line, "lapsToGo", f[0])
	if err != nil {
		return nil, err
	}
	return Heartbeat{
		LapsToGo:        laps,
		TimeToGo:        f[1],
		LocalTimeOfDay:  f[2],
		RunningRaceTime: f[3],
		FlagText:        f[4],
	}, nil
}

func parseRunInfo(line string, f []string) (Command, error) {
	if err := need(line, f, 2); err != nil {
		return nil, err
	}
	ref, err := atoi(line, "sessionRef", f[0])
	if err != nil {
		return nil, err
	}
	return RunInfo{SessionRef: ref, SessionName: f[1]}, nil
}

func parseCompetitorLong(line string, f []string) (Command, error) {
	if err := need(line, f, 7); err != nil {
		return nil, err
	}
	transponder, err := atou32(line, "transponder", f[2])
	if err != nil {
		return nil, err
	}
	classNum, err := atoi(line, "classNum", f[6])
	if err != nil {
		return nil, err
	}
	return CompetitorLong{
		RegNum:      f[0],
		Number:      f[1],
		Transponder: transponder,
		FirstName:   f[3],
		LastName:    f[4],
		Nationality: f[5],
		ClassNum:    classNum,
	}, nil
}

func parseCompetitorShort(line string, f []string) (Command, error) {
	if err := need(line, f, 7); err != nil {
		return nil, err
	}
	classNum, err := atoi(line, "classNum", f[2])
	if err != nil {
		return nil, err
	}
	return CompetitorShort{
		RegNum:      f[0],
		Number:      f[1],
		ClassNum:    classNum,
		FirstName:   f[3],
		LastName:    f[4],
		Nationality: f[5],
		Sponsor:     f[6],
	}, nil
}

func parseClassInfo(line string, f []string) (Command, error) {
	if err := need(line, f, 2); err != nil {
		return nil, err
	}
	num, err := atoi(line, "classNum", f[0])
	if err != nil {
		return nil, err
	}
	return ClassInfo{ClassNum: num, Label: f[1]}, nil
}

func parseSetting(line string, f []string) (Command, error) {
	if err := need(line, f, 2); err != nil {
		return nil, err
	}
	return Setting{Key: f[0], Value: f[1]}, nil
}

func parseRaceInfo(line string, f []string) (Command, error) {
	if err := need(line, f, 4); err != nil {
		return nil, err
	}
	pos, err := atoi(line, "position", f[0])
	if err != nil {
		return nil, err
	}
	laps, err := atoi(line, "laps", f[2])
	if err != nil {
		return nil, err
	}
	return RaceInfo{Position: pos, RegNum: f[1], Laps: laps, RaceTime: f[3]}, nil
}

func parsePracticeBest(line string, f []string) (Command, error) {
	if err := need(line, f, 4); err != nil {
		return nil, err
	}
	pos, err := atoi(line, "position", f[0])
	if err != nil {
		return nil, err
	}
	bestLap, err := atoi(line, "bestLap", f[2])
	if err != nil {
		return nil, err
	}
	return PracticeBest{Position: pos, RegNum: f[1], BestLap: bestLap, BestLapTime: f[3]}, nil
}

func parseInitRecord(line string, f []string) (Command, error) {
	if err := need(line, f, 2); err != nil {
		return nil, err
	}
	return InitRecord{TimeOfDay: f[0], Date: f[1]}, nil
}

func parsePassingInfo(line string, f []string) (Command, error) {
	if err := need(line, f, 3); err != nil {
		return nil, err
	}
	return PassingInfo{RegNum: f[0], LapTime: f[1], RaceTime: f[2]}, nil
}
