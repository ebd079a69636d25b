package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const detailPage = `
<html><body>
  <div class="thread-row">
    <div class="thread-date-col">May 2021</div>
    <a class="thread-link" href="/documents/protocol-v2.pdf">Study Protocol v2</a>
  </div>
  <div class="thread-row">
    <div class="thread-date-col">Jan 2019</div>
    <a class="thread-link" href="/documents/protocol-v1.pdf">Protocol v1</a>
  </div>
  <div class="thread-row">
    <div class="thread-date-col">Feb 2020</div>
    <a class="thread-link" href="/documents/sap.pdf">Statistical Analysis Plan</a>
  </div>
  <div class="thread-row">
    <div class="thread-date-col">not a date</div>
    <a class="thread-link" href="/documents/protocol-draft.pdf">Draft protocol</a>
  </div>
  <div class="icon-component">
    <div class="icon-component-label">Chief Investigator</div>
    <a class="std-link" href="/people/1">Prof Ada Moss</a>
  </div>
  <div class="icon-component">
    <div class="icon-component-label">Co-investigators</div>
    <a class="std-link" href="/people/2">Dr Ben Tran</a>
    <a class="std-link" href="/people/3">Dr Cara Liu</a>
  </div>
</body></html>`

func TestExtractProtocolDocs(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	fields, err := e.Extract(detailPage, "https://fundingawards.nihr.ac.uk/award/NIHR123")
	require.NoError(t, err)

	require.Len(t, fields.Protocols, 3)
	// Newest first; the undated draft sorts last.
	require.Equal(t, "Study Protocol v2", fields.Protocols[0].Title)
	require.Equal(t, "Protocol v1", fields.Protocols[1].Title)
	require.Equal(t, "Draft protocol", fields.Protocols[2].Title)
	require.Nil(t, fields.Protocols[2].Date)

	require.Equal(t, "https://fundingawards.nihr.ac.uk/documents/protocol-v2.pdf", fields.Protocols[0].URL)
	require.Equal(t, time.Date(2021, time.May, 1, 0, 0, 0, 0, time.UTC), fields.Protocols[0].Date.UTC())
}

func TestExtractInvestigatorNames(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	fields, err := e.Extract(detailPage, "https://fundingawards.nihr.ac.uk/award/NIHR123")
	require.NoError(t, err)

	require.Equal(t, []string{"Prof Ada Moss"}, fields.PIs)
	require.Equal(t, []string{"Dr Ben Tran", "Dr Cara Liu"}, fields.CoIs)
}

func TestLabelSynonymsRouteRoles(t *testing.T) {
	t.Parallel()

	markup := `
	<div class="icon-component">
	  <div class="form-label">Supervisor</div>
	  <a class="std-link">Prof Dana Reid</a>
	</div>
	<div class="icon-component">
	  <div class="form-label">Student</div>
	  <a class="std-link">Evan Kim</a>
	</div>`

	e := New(zap.NewNop())
	fields, err := e.Extract(markup, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Prof Dana Reid"}, fields.PIs)
	require.Equal(t, []string{"Evan Kim"}, fields.CoIs)
}

func TestUnlabelledBlockDefaultsToCoInvestigator(t *testing.T) {
	t.Parallel()

	markup := `
	<div class="icon-component">
	  <div class="icon-component-label">Team</div>
	  <a class="std-link">Dr Farah Aziz</a>
	</div>`

	e := New(zap.NewNop())
	fields, err := e.Extract(markup, "")
	require.NoError(t, err)
	require.Empty(t, fields.PIs)
	require.Equal(t, []string{"Dr Farah Aziz"}, fields.CoIs)
}

func TestRegexFallbackOnlyWhenStructuredEmpty(t *testing.T) {
	t.Parallel()

	markup := `
	<table>
	  <tr><td>Supervisor</td><td><a href="/p/1">Prof Gita Rao</a></td></tr>
	  <tr><td>Student</td><td><a href="/p/2">Hal Osei</a></td></tr>
	</table>`

	e := New(zap.NewNop())
	fields, err := e.Extract(markup, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Prof Gita Rao"}, fields.PIs)
	require.Equal(t, []string{"Hal Osei"}, fields.CoIs)
}

func TestRegexFallbackSkippedWhenStructuredFound(t *testing.T) {
	t.Parallel()

	markup := `
	<div class="icon-component">
	  <div class="icon-component-label">Principal Investigator</div>
	  <a class="std-link">Prof Iris Nolan</a>
	</div>
	<p>Supervisor history: <a href="/old">Prof Departed</a></p>`

	e := New(zap.NewNop())
	fields, err := e.Extract(markup, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Prof Iris Nolan"}, fields.PIs)
	require.Empty(t, fields.CoIs)
}

func TestNamesDeduplicatePreservingOrder(t *testing.T) {
	t.Parallel()

	markup := `
	<div class="icon-component">
	  <div class="icon-component-label">Co-investigators</div>
	  <a class="std-link">Dr Jo West</a>
	  <a class="std-link">Dr Kay Hall</a>
	  <a class="std-link">Dr Jo West</a>
	</div>`

	e := New(zap.NewNop())
	fields, err := e.Extract(markup, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Dr Jo West", "Dr Kay Hall"}, fields.CoIs)
}

func TestMalformedMarkupNeverPanics(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	for _, markup := range []string{"", "<div", "<<<>>>", "<html><body><a</body>"} {
		fields, err := e.Extract(markup, "")
		require.NoError(t, err)
		require.Empty(t, fields.Protocols)
	}
}

func TestEmptyPageYieldsZeroValues(t *testing.T) {
	t.Parallel()

	e := New(zap.NewNop())
	fields, err := e.Extract("<html><body><p>nothing here</p></body></html>", "")
	require.NoError(t, err)
	require.Empty(t, fields.Protocols)
	require.Empty(t, fields.PIs)
	require.Empty(t, fields.CoIs)
}

func TestParseMonthYear(t *testing.T) {
	t.Parallel()

	short := parseMonthYear("Mar 2022")
	require.NotNil(t, short)
	require.Equal(t, time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC), short.UTC())

	long := parseMonthYear("March 2022")
	require.NotNil(t, long)
	require.Equal(t, *short, *long)

	require.Nil(t, parseMonthYear(""))
	require.Nil(t, parseMonthYear("2022-03-01"))
}
