package inprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradexec/internal/domain/execution"
	"tradexec/internal/namespace"
)

func request(code string) execution.Request {
	return execution.Request{ID: "test", Code: code, Limits: execution.DefaultLimits()}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	result := New(nil).Execute(context.Background(), request("result = 2 + 2\nprint(result)\n"), nil)

	require.Equal(t, execution.StatusSuccess, result.Status, "error: %s", result.Error)
	assert.Equal(t, "4\n", result.Stdout)
	assert.Equal(t, int64(4), result.ReturnValue)
	assert.Greater(t, result.ExecutionTime, time.Duration(0))
}

func TestExecutePrintSeparators(t *testing.T) {
	t.Parallel()

	result := New(nil).Execute(context.Background(), request("print('a', 'b', sep='-', end='!')\nprint()\n"), nil)

	require.Equal(t, execution.StatusSuccess, result.Status, "error: %s", result.Error)
	assert.Equal(t, "a-b!\n", result.Stdout)
}

func TestExecuteRunsEveryStatement(t *testing.T) {
	t.Parallel()

	result := New(nil).Execute(context.Background(), request("result = 1\nresult = result + 1\nprint('done')\n"), nil)

	require.Equal(t, execution.StatusSuccess, result.Status, "error: %s", result.Error)
	assert.Equal(t, int64(2), result.ReturnValue)
	assert.Equal(t, "done\n", result.Stdout)
}

func TestExecutePrintToStderr(t *testing.T) {
	t.Parallel()

	code := "import sys\nprint('out')\nprint('warn', file=sys.stderr)\nprint('again', file=sys.stdout)\n"
	result := New(nil).Execute(context.Background(), request(code), nil)

	require.Equal(t, execution.StatusSuccess, result.Status, "error: %s", result.Error)
	assert.Equal(t, "out\nagain\n", result.Stdout)
	assert.Equal(t, "warn\n", result.Stderr)
}

func TestExecuteRuntimeError(t *testing.T) {
	t.Parallel()

	result := New(nil).Execute(context.Background(), request("print(1/0)\n"), nil)

	assert.Equal(t, execution.StatusError, result.Status)
	assert.Equal(t, execution.KindRuntimeError, result.Kind)
	assert.Contains(t, result.Stderr, "ZeroDivisionError")
}

func TestExecuteOverrunIsLabelledAfterReturn(t *testing.T) {
	t.Parallel()

	req := request("n = 0\nwhile n < 100000:\n    n = n + 1\n")
	req.Limits.Timeout = time.Millisecond

	result := New(nil).Execute(context.Background(), req, nil)

	assert.Equal(t, execution.StatusTimeout, result.Status)
	assert.Contains(t, result.Error, "cannot stop running code")
}

func TestExecuteOutputCapAfterRun(t *testing.T) {
	t.Parallel()

	req := request("for i in range(100):\n    print('0123456789')\n")
	req.Limits.MaxOutputBytes = 50

	result := New(nil).Execute(context.Background(), req, nil)

	assert.Equal(t, execution.StatusResourceExceeded, result.Status)
	assert.Len(t, result.Stdout, 50)
}

func TestExecuteStagesGlobalsAndHelpers(t *testing.T) {
	t.Parallel()

	ns := &namespace.Namespace{
		Artifacts:      map[string]string{"shipments": "importer,sumOfUsd,quantity\nAcme,100,1\nBeta,300,2\n"},
		Context:        map[string]any{"country": "DE", "limit": 2},
		Helpers:        namespace.HelpersSource(),
		PreloadHelpers: true,
	}
	code := "rows = load_trade_data('shipments')\nprint(country, limit, len(rows))\nresult = rows[0]['importer']\n"

	result := New(nil).Execute(context.Background(), request(code), ns)

	require.Equal(t, execution.StatusSuccess, result.Status, "stderr: %s metadata: %v", result.Stderr, result.Metadata)
	assert.Equal(t, "DE 2 2\n", result.Stdout)
	assert.Equal(t, "Acme", result.ReturnValue)
}

func TestExecuteHelperTotals(t *testing.T) {
	t.Parallel()

	ns := &namespace.Namespace{
		Artifacts:      map[string]string{"shipments": "importer,sumOfUsd,quantity\nX,5,1\nY,7,2\n"},
		Helpers:        namespace.HelpersSource(),
		PreloadHelpers: true,
	}
	code := "ranked = top_importers(load_trade_data('shipments'))\n" +
		"result = {'first': ranked[0]['importer'], 'first_total': ranked[0]['total_value'], 'second_total': ranked[1]['total_value']}\n" +
		"share = market_share(load_trade_data('shipments'), group_col='importer')\n" +
		"result['share'] = share[0]['share']\n"

	result := New(nil).Execute(context.Background(), request(code), ns)

	require.Equal(t, execution.StatusSuccess, result.Status, "stderr: %s metadata: %v", result.Stderr, result.Metadata)
	assert.Equal(t, map[string]any{
		"first":        "Y",
		"first_total":  7.0,
		"second_total": 5.0,
		"share":        0.5833,
	}, result.ReturnValue)
}

func TestAllocMeterSkipsOverlappingSpans(t *testing.T) {
	t.Parallel()

	var m allocMeter

	first := m.begin()
	second := m.begin()
	assert.Equal(t, int64(0), m.end(second))
	assert.Equal(t, int64(0), m.end(first))

	alone := m.begin()
	allocSink = make([]byte, 1<<20)
	assert.GreaterOrEqual(t, m.end(alone), int64(1<<20))
}

var allocSink []byte

func TestExecuteFreshInterpreterPerRequest(t *testing.T) {
	t.Parallel()

	backend := New(nil)
	first := backend.Execute(context.Background(), request("leaked = 1\n"), nil)
	require.Equal(t, execution.StatusSuccess, first.Status)

	second := backend.Execute(context.Background(), request("print(leaked)\n"), nil)
	assert.Equal(t, execution.StatusError, second.Status)
	assert.Contains(t, second.Stderr, "NameError")
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := New(nil).Execute(ctx, request("print(1)\n"), nil)
	assert.Equal(t, execution.KindInternalError, result.Kind)
}

func TestCapabilitiesAreNotPreemptive(t *testing.T) {
	t.Parallel()

	backend := New(nil)
	assert.False(t, backend.Capabilities().PreemptiveCancel)
	assert.True(t, backend.Available())
}

func TestConvertRoundTrip(t *testing.T) {
	t.Parallel()

	obj, err := toPy(map[string]any{"a": []any{"x", 1, 2.5, true, nil}})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"a": []any{"x", int64(1), 2.5, true, nil}}, fromPy(obj))

	_, err = toPy(struct{}{})
	assert.Error(t, err)
}
