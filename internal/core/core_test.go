package core

import (
	"bufio"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/moschopsuk/ndi-router/internal/routing"
)

func writeTempFile(byts []byte) (string, error) {
	tmpf, err := os.CreateTemp(os.TempDir(), "ndi-router-")
	if err != nil {
		return "", err
	}
	defer tmpf.Close()

	_, err = tmpf.Write(byts)
	if err != nil {
		return "", err
	}

	return tmpf.Name(), nil
}

func newInstance(conf string) (*Core, bool) {
	if conf == "" {
		return New([]string{})
	}

	tmpf, err := writeTempFile([]byte(conf))
	if err != nil {
		return nil, false
	}
	defer os.Remove(tmpf)

	return New([]string{tmpf})
}

type testClient struct {
	nconn net.Conn
	br    *bufio.Reader
}

func newTestClient(t *testing.T, address string) *testClient {
	nconn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	return &testClient{
		nconn: nconn,
		br:    bufio.NewReader(nconn),
	}
}

func (c *testClient) close() {
	c.nconn.Close()
}

func (c *testClient) write(t *testing.T, block string) {
	_, err := c.nconn.Write([]byte(block))
	require.NoError(t, err)
}

// readBlock reads one header-delimited block, including its
// terminating blank line.
func (c *testClient) readBlock(t *testing.T) (string, []string) {
	c.nconn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	header, err := c.br.ReadString('\n')
	require.NoError(t, err)
	header = strings.TrimRight(header, "\n")
	require.True(t, strings.HasSuffix(header, ":"), "not a block header: %q", header)

	var body []string
	for {
		line, err := c.br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return header, body
		}
		body = append(body, line)
	}
}

// readGreeting consumes the full state dump sent on connect and
// returns its blocks by header.
func (c *testClient) readGreeting(t *testing.T) map[string][]string {
	blocks := make(map[string][]string)
	for {
		header, body := c.readBlock(t)
		blocks[header] = body
		if header == "VIDEO OUTPUT ROUTING:" {
			return blocks
		}
	}
}

// waitBlock skips blocks until one with the wanted header arrives.
func (c *testClient) waitBlock(t *testing.T, wanted string) []string {
	for {
		header, body := c.readBlock(t)
		if header == wanted {
			return body
		}
	}
}

func TestCoreGreeting(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	c := newTestClient(t, "127.0.0.1:9990")
	defer c.close()

	blocks := c.readGreeting(t)

	require.Equal(t, []string{"Version: 2.7"}, blocks["PROTOCOL PREAMBLE:"])

	require.Contains(t, blocks["VIDEOHUB DEVICE:"], "Device present: true")
	require.Contains(t, blocks["VIDEOHUB DEVICE:"], "Video inputs: 4")
	require.Contains(t, blocks["VIDEOHUB DEVICE:"], "Video outputs: 4")

	require.Equal(t, []string{"0 Input 1", "1 Input 2", "2 Input 3", "3 Input 4"},
		blocks["INPUT LABELS:"])
	require.Equal(t, []string{"0 Output 1", "1 Output 2", "2 Output 3", "3 Output 4"},
		blocks["OUTPUT LABELS:"])
	require.Equal(t, []string{"0 U", "1 U", "2 U", "3 U"},
		blocks["VIDEO OUTPUT LOCKS:"])
	require.Equal(t, []string{"0 0", "1 1", "2 2", "3 3"},
		blocks["VIDEO OUTPUT ROUTING:"])
}

func TestCoreRoutingBroadcast(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	a := newTestClient(t, "127.0.0.1:9990")
	defer a.close()
	a.readGreeting(t)

	b := newTestClient(t, "127.0.0.1:9990")
	defer b.close()
	b.readGreeting(t)

	a.write(t, "VIDEO OUTPUT ROUTING:\n2 0\n\n")

	// every session observes the change, including the originator.
	require.Equal(t, []string{"2 0"}, b.waitBlock(t, "VIDEO OUTPUT ROUTING:"))
	require.Equal(t, []string{"2 0"}, a.waitBlock(t, "VIDEO OUTPUT ROUTING:"))

	// a new session sees the committed route in its dump
	c := newTestClient(t, "127.0.0.1:9990")
	defer c.close()
	blocks := c.readGreeting(t)
	require.Contains(t, blocks["VIDEO OUTPUT ROUTING:"], "2 0")
}

func TestCoreLockExclusion(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	a := newTestClient(t, "127.0.0.1:9990")
	defer a.close()
	a.readGreeting(t)

	b := newTestClient(t, "127.0.0.1:9990")
	defer b.close()
	b.readGreeting(t)

	a.write(t, "VIDEO OUTPUT LOCKS:\n1 O\n\n")

	// the owned/locked state depends on the observer
	require.Equal(t, []string{"1 O"}, a.waitBlock(t, "VIDEO OUTPUT LOCKS:"))
	require.Equal(t, []string{"1 L"}, b.waitBlock(t, "VIDEO OUTPUT LOCKS:"))

	// B's routing command on the locked output is rejected silently
	b.write(t, "VIDEO OUTPUT ROUTING:\n1 3\n\n")

	require.Never(t, func() bool {
		_, outputs := p.table.Snapshot()
		return outputs[1].Input == 3
	}, 500*time.Millisecond, 50*time.Millisecond)

	// A's disconnection releases the lock
	a.close()

	require.Equal(t, []string{"1 U"}, b.waitBlock(t, "VIDEO OUTPUT LOCKS:"))

	b.write(t, "VIDEO OUTPUT ROUTING:\n1 3\n\n")
	require.Equal(t, []string{"1 3"}, b.waitBlock(t, "VIDEO OUTPUT ROUTING:"))
}

func TestCoreMalformedLines(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	a := newTestClient(t, "127.0.0.1:9990")
	defer a.close()
	a.readGreeting(t)

	// malformed lines and out-of-range indices are skipped;
	// valid lines in the same block are still applied.
	a.write(t, "VIDEO OUTPUT ROUTING:\n"+
		"garbage\n"+
		"9 0\n"+
		"1 9\n"+
		"3 0\n"+
		"\n")

	require.Equal(t, []string{"3 0"}, a.waitBlock(t, "VIDEO OUTPUT ROUTING:"))

	// an unknown block doesn't terminate the session
	a.write(t, "SOMETHING ELSE:\nfoo\n\nPING:\n\n")

	// neither does a line far beyond any sane command length
	a.write(t, "VIDEO OUTPUT ROUTING:\n"+
		strings.Repeat("x", 128*1024)+"\n"+
		"\n")

	a.write(t, "OUTPUT LABELS:\n0 Monitor Wall\n\n")
	require.Equal(t, []string{"0 Monitor Wall"}, a.waitBlock(t, "OUTPUT LABELS:"))
}

func TestCoreLabelRename(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	a := newTestClient(t, "127.0.0.1:9990")
	defer a.close()
	a.readGreeting(t)

	b := newTestClient(t, "127.0.0.1:9990")
	defer b.close()
	b.readGreeting(t)

	a.write(t, "INPUT LABELS:\n2 VTR\n\n")
	require.Equal(t, []string{"2 VTR"}, b.waitBlock(t, "INPUT LABELS:"))
}

func TestCoreForwarderIdempotence(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	// without the SDK the forwarder tracks desired state only;
	// re-delivering the same assignment performs no additional work.
	client := uuid.New()
	require.NoError(t, p.table.Assign(2, 0, client))
	require.NoError(t, p.table.Assign(2, 0, client))

	require.Eventually(t, func() bool {
		_, outputs := p.table.Snapshot()
		return outputs[2].Input == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestCoreAPI(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n" +
		"api: yes\n")
	require.Equal(t, true, ok)
	defer p.Close()

	res := httpGetJSON(t, "http://127.0.0.1:9997/v1/routing/list")
	require.Contains(t, res, `"generation":0`)
	require.Contains(t, res, `"input":3`)

	httpPostJSON(t, "http://127.0.0.1:9997/v1/routing/set/2", `{"input":0}`)

	res = httpGetJSON(t, "http://127.0.0.1:9997/v1/routing/list")
	require.Contains(t, res, `"generation":1`)

	_, outputs := p.table.Snapshot()
	require.Equal(t, 0, outputs[2].Input)

	res = httpGetJSON(t, "http://127.0.0.1:9997/v1/outputs/list")
	require.Contains(t, res, `"label":"Output 3"`)
	require.Contains(t, res, `"locked":false`)

	res = httpGetJSON(t, "http://127.0.0.1:9997/v1/inputs/list")
	require.Contains(t, res, `"label":"Input 1"`)
}

func TestCoreMetrics(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n" +
		"metrics: yes\n")
	require.Equal(t, true, ok)
	defer p.Close()

	a := newTestClient(t, "127.0.0.1:9990")
	defer a.close()
	a.readGreeting(t)

	require.Eventually(t, func() bool {
		res := httpGetJSON(t, "http://127.0.0.1:9998/metrics")
		return strings.Contains(res, "sessions 1") &&
			strings.Contains(res, "outputs_routed 4")
	}, 2*time.Second, 100*time.Millisecond)
}

func TestCorePing(t *testing.T) {
	p, ok := newInstance("videoInputs: 4\n" +
		"videoOutputs: 4\n")
	require.Equal(t, true, ok)
	defer p.Close()

	a := newTestClient(t, "127.0.0.1:9990")
	defer a.close()
	a.readGreeting(t)

	// keepalives produce no reply and don't disturb the session
	a.write(t, "PING:\n\n")
	a.write(t, "VIDEO OUTPUT ROUTING:\n0 2\n\n")
	require.Equal(t, []string{"0 2"}, a.waitBlock(t, "VIDEO OUTPUT ROUTING:"))
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func httpGetJSON(t *testing.T, url string) string {
	res, err := httpClient.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	byts := make([]byte, 64*1024)
	n, _ := res.Body.Read(byts)
	return string(byts[:n])
}

func httpPostJSON(t *testing.T, url string, body string) {
	res, err := httpClient.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, 200, res.StatusCode)
}

func TestRoutingInitialState(t *testing.T) {
	ta := routing.NewTable(2, 4)
	defer ta.Close()

	_, outputs := ta.Snapshot()
	require.Equal(t, 0, outputs[0].Input)
	require.Equal(t, 1, outputs[1].Input)
}
