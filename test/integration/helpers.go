// Package integration runs real node processes against each other.
package integration

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Tessera/client"
	"Tessera/internal/engine"
)

// tssConfig shortens every protocol timer so a cluster converges in seconds.
const tssConfig = `
[tss]
hints_enabled   = true
history_enabled = true

bootstrap_hints_key_grace_period  = "4s"
transition_hints_key_grace_period = "3s"
bootstrap_proof_key_grace_period  = "4s"
transition_proof_key_grace_period = "3s"

crs_update_contribution_time = "3s"
crs_finalization_delay       = "1s"
signing_attempt_timeout      = "10s"

crs_parties = 8
workers     = 2
`

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Member is one roster entry of a test cluster.
type Member struct {
	ID        uint64 // ID is the node id
	Weight    uint64 // Weight is the node's weight
	Genesis   bool   // Genesis places the node in the genesis roster
	Candidate bool   // Candidate places the node in the candidate roster
}

// Node represents a running node process.
type Node struct {
	id        uint64             // id is the node id
	sequencer bool               // sequencer is set on the node ordering rounds
	args      []string           // args restart the process
	cmd       *exec.Cmd          // cmd is the running process
	httpAddr  string             // httpAddr is the HTTP API address
	quicAddr  string             // quicAddr is the QUIC address
	dataDir   string             // dataDir is the node's data directory
	stdout    *safeBuffer        // stdout captures process output
	stderr    *safeBuffer        // stderr captures process errors
	cancel    context.CancelFunc // cancel stops the process
	done      chan struct{}      // done is closed when the process exits
}

// ID returns the node id.
func (n *Node) ID() uint64 { return n.id }

// Client returns an API client for the node.
func (n *Node) Client() *client.Client { return client.New(n.httpAddr) }

// IsRunning checks if the node process is alive and started successfully.
func (n *Node) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	select {
	case <-n.done:
		return false
	default:
	}

	return strings.Contains(n.stdout.String(), "starting Tessera node")
}

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// Stop terminates the node process and waits for it to exit.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.done != nil {
		select {
		case <-n.done:
		case <-time.After(10 * time.Second):
		}
	}
}

// Cluster manages a sequencer node and its replicas.
type Cluster struct {
	t          *testing.T // t is the test context
	nodes      []*Node    // nodes[0] runs the sequencer
	binaryPath string     // binaryPath is the compiled node binary
	testDir    string     // testDir holds configs and node data
	configPath string     // configPath is the TSS parameter file
	rosterPath string     // rosterPath is the roster file
	autoAdopt  bool       // autoAdopt is passed to every node
}

// NewCluster builds the binary and starts one node per member. The first
// member runs the sequencer.
func NewCluster(t *testing.T, members []Member, autoAdopt bool) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	c := &Cluster{
		t:          t,
		binaryPath: buildBinary(t),
		testDir:    t.TempDir(),
		autoAdopt:  autoAdopt,
	}

	c.configPath = filepath.Join(c.testDir, "tss.toml")
	c.rosterPath = filepath.Join(c.testDir, "roster.toml")
	writeFile(t, c.configPath, tssConfig)
	writeFile(t, c.rosterPath, rosterTOML(members))

	t.Cleanup(c.Stop)

	for i, m := range members {
		node := c.startNode(m.ID, i == 0)
		c.nodes = append(c.nodes, node)

		if i == 0 {
			c.waitHealthy(node, 15*time.Second)
		}
	}

	for _, n := range c.nodes[1:] {
		c.waitHealthy(n, 15*time.Second)
	}

	return c
}

// Nodes returns every node, the sequencer first.
func (c *Cluster) Nodes() []*Node { return c.nodes }

// Node returns the node with the given id.
func (c *Cluster) Node(id uint64) *Node {
	for _, n := range c.nodes {
		if n.id == id {
			return n
		}
	}

	c.t.Fatalf("no node %d", id)

	return nil
}

// Stop terminates every node.
func (c *Cluster) Stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// startNode launches a node process.
func (c *Cluster) startNode(id uint64, sequencer bool) *Node {
	c.t.Helper()

	node := &Node{
		id:        id,
		sequencer: sequencer,
		httpAddr:  freeAddr(c.t, "tcp"),
		quicAddr:  freeAddr(c.t, "udp"),
		dataDir:   filepath.Join(c.testDir, fmt.Sprintf("node-%d", id)),
	}

	if err := os.MkdirAll(node.dataDir, 0755); err != nil {
		c.t.Fatalf("create node dir %d: %v", id, err)
	}

	node.args = c.buildNodeArgs(node)
	c.launch(node)

	return node
}

// buildNodeArgs builds the command line of a node.
func (c *Cluster) buildNodeArgs(node *Node) []string {
	args := []string{
		"-node-id", fmt.Sprint(node.id),
		"-data", node.dataDir,
		"-key", filepath.Join(node.dataDir, "node.key"),
		"-http", node.httpAddr,
		"-quic", node.quicAddr,
		"-config", c.configPath,
		"-roster", c.rosterPath,
		"-log-level", "debug",
	}

	if node.sequencer {
		args = append(args, "-sequencer", "-interval", "100ms")
	} else {
		args = append(args, "-sequencer-addr", c.nodes[0].quicAddr)
	}

	if c.autoAdopt {
		args = append(args, "-auto-adopt")
	}

	return args
}

// launch starts the process described by node.args.
func (c *Cluster) launch(node *Node) {
	c.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel
	node.stdout = &safeBuffer{}
	node.stderr = &safeBuffer{}
	node.done = make(chan struct{})

	node.cmd = exec.CommandContext(ctx, c.binaryPath, node.args...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr
	node.cmd.Cancel = func() error { return node.cmd.Process.Signal(os.Interrupt) }
	node.cmd.WaitDelay = 5 * time.Second

	if err := node.cmd.Start(); err != nil {
		c.t.Fatalf("start node %d: %v", node.id, err)
	}

	go func() {
		node.cmd.Wait()
		close(node.done)
	}()
}

// Restart stops a node and starts it again on the same data directory.
func (c *Cluster) Restart(node *Node) {
	c.t.Helper()

	node.Stop()
	c.launch(node)
	c.waitHealthy(node, 15*time.Second)
}

// waitHealthy waits until the node answers /health.
func (c *Cluster) waitHealthy(node *Node, timeout time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := node.Client().Health(ctx)
		cancel()

		if err == nil && node.IsRunning() {
			return
		}

		time.Sleep(100 * time.Millisecond)
	}

	c.t.Fatalf("node %d not healthy:\nSTDOUT:\n%s\nSTDERR:\n%s",
		node.id, tail(node.stdout.String(), 4000), node.stderr.String())
}

// WaitAll polls every node until cond holds on all of them.
func (c *Cluster) WaitAll(what string, timeout time.Duration, cond func(engine.Status) bool) map[uint64]engine.Status {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	statuses := make(map[uint64]engine.Status, len(c.nodes))

	for time.Now().Before(deadline) {
		done := true

		for _, n := range c.nodes {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			st, err := n.Client().Status(ctx)
			cancel()

			if err != nil || !cond(st) {
				done = false
				break
			}

			statuses[n.id] = st
		}

		if done {
			return statuses
		}

		time.Sleep(250 * time.Millisecond)
	}

	c.logNodeStates()
	c.t.Fatalf("timed out waiting for %s", what)

	return nil
}

// logNodeStates prints every node's status to the test log.
func (c *Cluster) logNodeStates() {
	for _, n := range c.nodes {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		st, err := n.Client().Status(ctx)
		cancel()

		if err != nil {
			c.t.Logf("node %d: %v\n%s", n.id, err, tail(n.Logs(), 2000))
			continue
		}

		c.t.Logf("node %d: round=%d phase=%s crs=%s ready=%v ledger=%q",
			n.id, st.Round, st.Phase, st.CRSStage, st.SigningReady, st.LedgerID)
	}
}

// rosterTOML renders members as a roster file.
func rosterTOML(members []Member) string {
	var b strings.Builder

	for _, section := range []string{"genesis", "candidate"} {
		for _, m := range members {
			if (section == "genesis" && !m.Genesis) || (section == "candidate" && !m.Candidate) {
				continue
			}

			fmt.Fprintf(&b, "[[%s]]\nnode_id = %d\nweight = %d\n\n", section, m.ID, m.Weight)
		}
	}

	return b.String()
}

// freeAddr reserves a loopback port on network and releases it.
func freeAddr(t *testing.T, network string) string {
	t.Helper()

	if network == "udp" {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("reserve udp port: %v", err)
		}
		defer conn.Close()

		return conn.LocalAddr().String()
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve tcp port: %v", err)
	}
	defer l.Close()

	return l.Addr().String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[len(s)-n:]
}

// buildBinary compiles cmd/node once per test.
func buildBinary(t *testing.T) string {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "tessera-node")

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	return binary
}

func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for range 5 {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
