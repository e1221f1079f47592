// SPDX-License-Identifier: MIT

package rmonitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{
			name: "heartbeat",
			line: `$F,14,"00:12:45","13:34:23","00:09:47","Green"`,
			want: Heartbeat{
				LapsToGo:        14,
				TimeToGo:        "00:12:45",
				LocalTimeOfDay:  "13:34:23",
				RunningRaceTime: "00:09:47",
				FlagText:        "Green",
			},
		},
		{
			name: "run info",
			line: `$B,5,"Friday Practice"`,
			want: RunInfo{SessionRef: 5, SessionName: "Friday Practice"},
		},
		{
			name: "competitor long",
			line: `$A,"1234BE","12",52474,"John","Johnson","USA",5`,
			want: CompetitorLong{
				RegNum:      "1234BE",
				Number:      "12",
				Transponder: 52474,
				FirstName:   "John",
				LastName:    "Johnson",
				Nationality: "USA",
				ClassNum:    5,
			},
		},
		{
			name: "competitor short",
			line: `$COMP,"1234BE","12",5,"John","Johnson","USA","Camel"`,
			want: CompetitorShort{
				RegNum:      "1234BE",
				Number:      "12",
				ClassNum:    5,
				FirstName:   "John",
				LastName:    "Johnson",
				Nationality: "USA",
				Sponsor:     "Camel",
			},
		},
		{
			name: "class info",
			line: `$C,5,"Formula 300"`,
			want: ClassInfo{ClassNum: 5, Label: "Formula 300"},
		},
		{
			name: "setting",
			line: `$E,"TRACKNAME","Road America"`,
			want: Setting{Key: "TRACKNAME", Value: "Road America"},
		},
		{
			name: "race info",
			line: `$G,3,"1234BE",14,"01:12:47.872"`,
			want: RaceInfo{Position: 3, RegNum: "1234BE", Laps: 14, RaceTime: "01:12:47.872"},
		},
		{
			name: "practice best",
			line: `$H,2,"1234BE",3,"00:02:17.872"`,
			want: PracticeBest{Position: 2, RegNum: "1234BE", BestLap: 3, BestLapTime: "00:02:17.872"},
		},
		{
			name: "init record",
			line: `$I,"16:36:08.000","12 jan 01"`,
			want: InitRecord{TimeOfDay: "16:36:08.000", Date: "12 jan 01"},
		},
		{
			name: "passing info",
			line: `$J,"1234BE","00:02:03.826","01:42:17.672"`,
			want: PassingInfo{RegNum: "1234BE", LapTime: "00:02:03.826", RaceTime: "01:42:17.672"},
		},
		{
			name: "corrected finish",
			line: `$COR,"123BE","658",2,"00:00:35.272","+00:00:00.012"`,
			want: CorrectedFinish{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineQuotedWhitespacePreserved(t *testing.T) {
	got, err := ParseLine(`$B,5," Friday  Practice "`)
	require.NoError(t, err)
	assert.Equal(t, RunInfo{SessionRef: 5, SessionName: " Friday  Practice "}, got)
}

func TestParseLineUnknownMarker(t *testing.T) {
	got, err := ParseLine(`$X,"whatever"`)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseLineErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no marker", `F,14,"00:12:45"`},
		{"too few fields", `$F,14`},
		{"non numeric", `$F,abc,"a","b","c","Green"`},
		{"bad transponder", `$A,"r","12",notanumber,"a","b","USA",5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLine(tt.line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))
		})
	}
}

func TestParseBatchSkipsMalformedLines(t *testing.T) {
	data := "$F,9999,\"00:00:00\",\"13:34:23\",\"00:00:00\",\"Red\"\n" +
		"$F,bogus\n" +
		"\n" +
		"$B,5,\"Race\"\n"

	var errs []error
	cmds := ParseBatch(data, func(err error) { errs = append(errs, err) })

	require.Len(t, cmds, 2)
	assert.Equal(t, "$F", cmds[0].Marker())
	assert.Equal(t, "$B", cmds[1].Marker())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrParse)
}
